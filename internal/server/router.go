package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/haexhub/haex-sync/internal/auth"
	"github.com/haexhub/haex-sync/internal/vault"
	"go.uber.org/zap"
)

const (
	// ServiceName identifies this service in the root endpoint payload.
	ServiceName = "haex-sync-api"
	// ServiceVersion is reported by the root endpoint.
	ServiceVersion = "0.3.0"

	userIDContextKey = "haex_user_id"
	accessTokenQuery = "access_token"
)

var (
	errMissingVerifier      = errors.New("token verifier dependency required")
	errMissingVaultService  = errors.New("vault service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenVerifier resolves a bearer token to identity claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

// IdentityRecorder mirrors verified identities into local storage.
type IdentityRecorder interface {
	Record(ctx context.Context, claims auth.IdentityClaims) (string, error)
}

// Dependencies bundles everything the HTTP surface needs.
type Dependencies struct {
	Verifier       TokenVerifier
	VaultService   *vault.Service
	Identities     IdentityRecorder
	Realtime       *RealtimeDispatcher
	Logger         *zap.Logger
	AllowedOrigins []string
	Environment    string
}

// NewHTTPHandler builds the gin router for the sync API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.VaultService == nil {
		return nil, errMissingVaultService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dispatcher := deps.Realtime
	if dispatcher == nil {
		dispatcher = NewRealtimeDispatcher()
	}

	handler := &httpHandler{
		verifier:     deps.Verifier,
		vaultService: deps.VaultService,
		identities:   deps.Identities,
		realtime:     dispatcher,
		logger:       logger,
		environment:  deps.Environment,
	}

	router := gin.New()
	router.Use(gin.CustomRecovery(handler.recoverPanic))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/", handler.handleRoot)
	router.NoRoute(handler.handleNotFound)

	protected := router.Group("/sync")
	protected.Use(handler.authorizeRequest)
	protected.POST("/vault-key", handler.handleCreateVaultKey)
	protected.GET("/vault-key/:vaultId", handler.handleGetVaultKey)
	protected.POST("/push", handler.handlePush)
	protected.POST("/pull", handler.handlePull)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}

	wildcard := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			wildcard = true
			break
		}
	}

	// Wildcard and credentials are mutually exclusive under the CORS spec.
	if wildcard {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
		corsConfig.AllowCredentials = true
	}

	return cors.New(corsConfig)
}

type httpHandler struct {
	verifier     TokenVerifier
	vaultService *vault.Service
	identities   IdentityRecorder
	realtime     *RealtimeDispatcher
	logger       *zap.Logger
	environment  string
}

func (h *httpHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    ServiceName,
		"version": ServiceVersion,
		"status":  "ok",
		"env":     h.environment,
	})
}

func (h *httpHandler) handleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
}

func (h *httpHandler) recoverPanic(c *gin.Context, recovered any) {
	h.logger.Error("request panic recovered", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "unexpected server error",
	})
}

// authorizeRequest resolves the bearer token to a user id before any route
// logic runs. Missing header and invalid token produce the same response so
// callers cannot probe which case occurred. SSE clients cannot set headers,
// so the events route may carry the token in the access_token query field.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	case header == "":
		token = strings.TrimSpace(c.Query(accessTokenQuery))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	userID := claims.Subject
	if h.identities != nil {
		recordedID, recordErr := h.identities.Record(c.Request.Context(), claims)
		if recordErr != nil {
			h.logger.Warn("identity mirror update failed", zap.Error(recordErr), zap.String("user_id", claims.Subject))
		} else {
			userID = recordedID
		}
	}

	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) requestUserID(c *gin.Context) (vault.UserID, bool) {
	userID, err := vault.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return "", false
	}
	return userID, true
}

type vaultKeyRequestPayload struct {
	VaultID           string `json:"vaultId"`
	EncryptedVaultKey string `json:"encryptedVaultKey"`
	Salt              string `json:"salt"`
	Nonce             string `json:"nonce"`
}

type vaultKeySummaryPayload struct {
	ID        string    `json:"id"`
	VaultID   string    `json:"vaultId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *httpHandler) handleCreateVaultKey(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var request vaultKeyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	vaultID, err := vault.NewVaultID(request.VaultID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	encryptedKey, err := vault.NewCipherText(request.EncryptedVaultKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	salt, err := vault.NewCipherText(request.Salt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	nonce, err := vault.NewCipherText(request.Nonce)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.vaultService.CreateVaultKey(c.Request.Context(), userID, vault.VaultKeyParams{
		VaultID:      vaultID,
		EncryptedKey: encryptedKey,
		Salt:         salt,
		Nonce:        nonce,
	})
	if err != nil {
		if errors.Is(err, vault.ErrVaultKeyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "vault key already exists"})
			return
		}
		h.logger.Error("failed to create vault key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vault_key_create_failed"})
		return
	}

	// The sensitive fields are deliberately absent from the creation response.
	c.JSON(http.StatusCreated, gin.H{
		"message": "vault key created",
		"vaultKey": vaultKeySummaryPayload{
			ID:        record.ID,
			VaultID:   record.VaultID,
			CreatedAt: record.CreatedAt,
		},
	})
}

type vaultKeyDetailPayload struct {
	VaultID           string    `json:"vaultId"`
	EncryptedVaultKey string    `json:"encryptedVaultKey"`
	Salt              string    `json:"salt"`
	Nonce             string    `json:"nonce"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (h *httpHandler) handleGetVaultKey(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	vaultID, err := vault.NewVaultID(c.Param("vaultId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.vaultService.FindVaultKey(c.Request.Context(), userID, vaultID)
	if err != nil {
		if errors.Is(err, vault.ErrVaultKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "vault key not found"})
			return
		}
		h.logger.Error("failed to load vault key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vault_key_fetch_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vaultKey": vaultKeyDetailPayload{
			VaultID:           record.VaultID,
			EncryptedVaultKey: record.EncryptedKey,
			Salt:              record.Salt,
			Nonce:             record.Nonce,
			CreatedAt:         record.CreatedAt,
		},
	})
}

type pushEntryPayload struct {
	EncryptedData string `json:"encryptedData"`
	Nonce         string `json:"nonce"`
	HaexTimestamp string `json:"haexTimestamp"`
}

type pushRequestPayload struct {
	VaultID string             `json:"vaultId"`
	Logs    []pushEntryPayload `json:"logs"`
}

type pushReceiptPayload struct {
	ID            string    `json:"id"`
	Sequence      int64     `json:"sequence"`
	HaexTimestamp string    `json:"haexTimestamp"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (h *httpHandler) handlePush(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var request pushRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	vaultID, err := vault.NewVaultID(request.VaultID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entries := make([]vault.EntryInput, 0, len(request.Logs))
	for _, entry := range request.Logs {
		encryptedData, dataErr := vault.NewCipherText(entry.EncryptedData)
		if dataErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		nonce, nonceErr := vault.NewCipherText(entry.Nonce)
		if nonceErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		haexTimestamp, tsErr := vault.NewHaexTimestamp(entry.HaexTimestamp)
		if tsErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		entries = append(entries, vault.EntryInput{
			EncryptedData: encryptedData,
			Nonce:         nonce,
			HaexTimestamp: haexTimestamp,
		})
	}

	result, err := h.vaultService.PushEntries(c.Request.Context(), userID, vaultID, entries)
	if err != nil {
		if errors.Is(err, vault.ErrDuplicateTimestamp) {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate haex timestamp"})
			return
		}
		h.logger.Error("failed to push log entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push_failed"})
		return
	}

	receipts := make([]pushReceiptPayload, 0, len(result.Receipts))
	latestSequence := int64(0)
	for _, receipt := range result.Receipts {
		receipts = append(receipts, pushReceiptPayload{
			ID:            receipt.ID,
			Sequence:      receipt.Sequence,
			HaexTimestamp: receipt.HaexTimestamp,
			CreatedAt:     receipt.CreatedAt,
		})
		if receipt.Sequence > latestSequence {
			latestSequence = receipt.Sequence
		}
	}

	if result.Count > 0 {
		h.realtime.Publish(RealtimeMessage{
			UserID:         userID.String(),
			EventType:      RealtimeEventVaultChanged,
			VaultID:        vaultID.String(),
			LatestSequence: latestSequence,
			Timestamp:      time.Now().UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "push complete",
		"count":   result.Count,
		"logs":    receipts,
	})
}

type pullRequestPayload struct {
	VaultID       string `json:"vaultId"`
	AfterSequence *int64 `json:"afterSequence"`
	Limit         *int   `json:"limit"`
}

type pullEntryPayload struct {
	ID            string    `json:"id"`
	EncryptedData string    `json:"encryptedData"`
	Nonce         string    `json:"nonce"`
	HaexTimestamp string    `json:"haexTimestamp"`
	Sequence      int64     `json:"sequence"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (h *httpHandler) handlePull(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var request pullRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	vaultID, err := vault.NewVaultID(request.VaultID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	afterSequence := int64(0)
	if request.AfterSequence != nil {
		afterSequence = *request.AfterSequence
	}
	limit := vault.DefaultPullLimit
	if request.Limit != nil {
		limit = *request.Limit
	}

	result, err := h.vaultService.PullEntries(c.Request.Context(), userID, vaultID, afterSequence, limit)
	if err != nil {
		if errors.Is(err, vault.ErrInvalidPullBounds) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("failed to pull log entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pull_failed"})
		return
	}

	logs := make([]pullEntryPayload, 0, len(result.Entries))
	for _, entry := range result.Entries {
		logs = append(logs, pullEntryPayload{
			ID:            entry.ID,
			EncryptedData: entry.EncryptedData,
			Nonce:         entry.Nonce,
			HaexTimestamp: entry.HaexTimestamp,
			Sequence:      entry.Sequence,
			CreatedAt:     entry.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":    logs,
		"hasMore": result.HasMore,
	})
}
