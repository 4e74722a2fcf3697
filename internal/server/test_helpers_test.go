package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/haexhub/haex-sync/internal/auth"
	"github.com/haexhub/haex-sync/internal/vault"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubTokenVerifier struct {
	claimsByToken map[string]auth.IdentityClaims
	verifyErr     error
}

func (s stubTokenVerifier) Verify(_ context.Context, token string) (auth.IdentityClaims, error) {
	if s.verifyErr != nil {
		return auth.IdentityClaims{}, s.verifyErr
	}
	claims, ok := s.claimsByToken[token]
	if !ok {
		return auth.IdentityClaims{}, errors.New("unknown token")
	}
	return claims, nil
}

func singleUserVerifier(token, userID string) stubTokenVerifier {
	return stubTokenVerifier{
		claimsByToken: map[string]auth.IdentityClaims{
			token: {Subject: userID},
		},
	}
}

func multiUserVerifier(userIDsByToken map[string]string) stubTokenVerifier {
	claims := make(map[string]auth.IdentityClaims, len(userIDsByToken))
	for token, userID := range userIDsByToken {
		claims[token] = auth.IdentityClaims{Subject: userID}
	}
	return stubTokenVerifier{claimsByToken: claims}
}

func newTestVaultService(t *testing.T) *vault.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&vault.VaultKey{}, &vault.VaultLogEntry{}, &vault.UserSequence{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := vault.NewService(vault.ServiceConfig{
		Database:   db,
		IDProvider: vault.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build vault service: %v", err)
	}
	return service
}

func newTestHandler(t *testing.T, verifier TokenVerifier) http.Handler {
	t.Helper()
	handler, err := NewHTTPHandler(Dependencies{
		Verifier:     verifier,
		VaultService: newTestVaultService(t),
		Logger:       zap.NewNop(),
		Environment:  "test",
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func performJSONRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSONBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response body %q: %v", recorder.Body.String(), err)
	}
}
