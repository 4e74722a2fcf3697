package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// MinPullLimit is the smallest accepted pull page size.
	MinPullLimit = 1
	// MaxPullLimit is the largest accepted pull page size.
	MaxPullLimit = 1000
	// DefaultPullLimit applies when the client omits the page size.
	DefaultPullLimit = 100
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrVaultKeyExists indicates a vault key is already registered for the (user, vault) pair.
	ErrVaultKeyExists = errors.New("vault: vault key already exists")
	// ErrVaultKeyNotFound indicates no vault key is registered for the (user, vault) pair.
	ErrVaultKeyNotFound = errors.New("vault: vault key not found")
	// ErrDuplicateTimestamp indicates a pushed entry reused a haex timestamp already stored for the user.
	ErrDuplicateTimestamp = errors.New("vault: duplicate haex timestamp")
	// ErrInvalidPullBounds indicates the pull cursor or limit is outside the accepted range.
	ErrInvalidPullBounds = errors.New("vault: invalid pull bounds")
)

const (
	opServiceNew     = "vault.service.new"
	opCreateVaultKey = "vault.create_vault_key"
	opFindVaultKey   = "vault.find_vault_key"
	opPushEntries    = "vault.push_entries"
	opPullEntries    = "vault.pull_entries"

	fieldUserID  = "user_id"
	fieldVaultID = "vault_id"

	queryUserID        = "user_id = ?"
	queryUserVault     = "user_id = ? AND vault_id = ?"
	queryUserVaultSeq  = "user_id = ? AND vault_id = ? AND sequence > ?"
	orderSequenceAsc   = "sequence ASC"
	columnLastSequence = "last_sequence"
)

// ServiceError wraps a failure with a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for stored records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the sync service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service implements vault-key exchange and the push/pull log protocol.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateVaultKey stores the encrypted key blob for a (user, vault) pair.
// The unique index on (user_id, vault_id) arbitrates races between devices
// registering the same vault; the loser observes ErrVaultKeyExists.
func (s *Service) CreateVaultKey(ctx context.Context, userID UserID, params VaultKeyParams) (VaultKeyRecord, error) {
	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateVaultKey, "id_generation_failed", err, zap.String(fieldUserID, userID.String()))
		return VaultKeyRecord{}, newServiceError(opCreateVaultKey, "id_generation_failed", err)
	}

	model := VaultKey{
		ID:           recordID,
		UserID:       userID.String(),
		VaultID:      params.VaultID.String(),
		EncryptedKey: params.EncryptedKey.String(),
		Salt:         params.Salt.String(),
		Nonce:        params.Nonce.String(),
		CreatedAt:    s.clock().UTC(),
	}

	createResult := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if createResult.Error != nil {
		if errors.Is(createResult.Error, gorm.ErrDuplicatedKey) {
			return VaultKeyRecord{}, newServiceError(opCreateVaultKey, "already_exists", ErrVaultKeyExists)
		}
		s.logError(opCreateVaultKey, "insert_failed", createResult.Error,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldVaultID, params.VaultID.String()))
		return VaultKeyRecord{}, newServiceError(opCreateVaultKey, "insert_failed", createResult.Error)
	}
	if createResult.RowsAffected == 0 {
		return VaultKeyRecord{}, newServiceError(opCreateVaultKey, "already_exists", ErrVaultKeyExists)
	}

	return vaultKeyRecordFromModel(model), nil
}

// FindVaultKey returns the stored vault key for a (user, vault) pair.
func (s *Service) FindVaultKey(ctx context.Context, userID UserID, vaultID VaultID) (VaultKeyRecord, error) {
	var model VaultKey
	err := s.db.WithContext(ctx).
		Where(queryUserVault, userID.String(), vaultID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VaultKeyRecord{}, newServiceError(opFindVaultKey, "not_found", ErrVaultKeyNotFound)
	}
	if err != nil {
		s.logError(opFindVaultKey, "query_failed", err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldVaultID, vaultID.String()))
		return VaultKeyRecord{}, newServiceError(opFindVaultKey, "query_failed", err)
	}

	return vaultKeyRecordFromModel(model), nil
}

// PushEntries appends a batch of encrypted log entries, assigning gapless
// per-user sequence numbers in submission order. The whole batch commits or
// fails as one unit; a reused haex timestamp fails the batch.
func (s *Service) PushEntries(ctx context.Context, userID UserID, vaultID VaultID, entries []EntryInput) (PushResult, error) {
	result := PushResult{Receipts: make([]PushReceipt, 0, len(entries))}
	if len(entries) == 0 {
		return result, nil
	}

	transactionError := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		lastSequence, err := s.lockUserSequence(transaction, userID)
		if err != nil {
			return err
		}

		createdAt := s.clock().UTC()
		models := make([]VaultLogEntry, 0, len(entries))
		for offset, entry := range entries {
			entryID, idErr := s.idProvider.NewID()
			if idErr != nil {
				s.logError(opPushEntries, "id_generation_failed", idErr, zap.String(fieldUserID, userID.String()))
				return newServiceError(opPushEntries, "id_generation_failed", idErr)
			}
			models = append(models, VaultLogEntry{
				ID:            entryID,
				UserID:        userID.String(),
				VaultID:       vaultID.String(),
				EncryptedData: entry.EncryptedData.String(),
				Nonce:         entry.Nonce.String(),
				HaexTimestamp: entry.HaexTimestamp.String(),
				Sequence:      lastSequence + int64(offset) + 1,
				CreatedAt:     createdAt,
			})
		}

		if err := transaction.Create(&models).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return newServiceError(opPushEntries, "duplicate_timestamp", ErrDuplicateTimestamp)
			}
			s.logError(opPushEntries, "insert_failed", err,
				zap.String(fieldUserID, userID.String()),
				zap.String(fieldVaultID, vaultID.String()))
			return newServiceError(opPushEntries, "insert_failed", err)
		}

		newLast := lastSequence + int64(len(models))
		if err := transaction.Model(&UserSequence{}).
			Where(queryUserID, userID.String()).
			Update(columnLastSequence, newLast).Error; err != nil {
			s.logError(opPushEntries, "sequence_update_failed", err, zap.String(fieldUserID, userID.String()))
			return newServiceError(opPushEntries, "sequence_update_failed", err)
		}

		for _, model := range models {
			result.Receipts = append(result.Receipts, PushReceipt{
				ID:            model.ID,
				Sequence:      model.Sequence,
				HaexTimestamp: model.HaexTimestamp,
				CreatedAt:     model.CreatedAt,
			})
		}
		result.Count = len(models)
		return nil
	})

	if transactionError != nil {
		return PushResult{}, transactionError
	}
	return result, nil
}

// PullEntries returns one ascending page of log entries for a (user, vault)
// pair with sequence greater than afterSequence. A page of limit+1 rows is
// fetched and trimmed to compute HasMore. The read has no side effects.
func (s *Service) PullEntries(ctx context.Context, userID UserID, vaultID VaultID, afterSequence int64, limit int) (PullResult, error) {
	if afterSequence < 0 {
		return PullResult{}, newServiceError(opPullEntries, "invalid_cursor", ErrInvalidPullBounds)
	}
	if limit < MinPullLimit || limit > MaxPullLimit {
		return PullResult{}, newServiceError(opPullEntries, "invalid_limit", ErrInvalidPullBounds)
	}

	var models []VaultLogEntry
	err := s.db.WithContext(ctx).
		Where(queryUserVaultSeq, userID.String(), vaultID.String(), afterSequence).
		Order(orderSequenceAsc).
		Limit(limit + 1).
		Find(&models).Error
	if err != nil {
		s.logError(opPullEntries, "query_failed", err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldVaultID, vaultID.String()))
		return PullResult{}, newServiceError(opPullEntries, "query_failed", err)
	}

	hasMore := len(models) > limit
	if hasMore {
		models = models[:limit]
	}

	entries := make([]EntryRecord, 0, len(models))
	for _, model := range models {
		entries = append(entries, EntryRecord{
			ID:            model.ID,
			EncryptedData: model.EncryptedData,
			Nonce:         model.Nonce,
			HaexTimestamp: model.HaexTimestamp,
			Sequence:      model.Sequence,
			CreatedAt:     model.CreatedAt,
		})
	}

	return PullResult{Entries: entries, HasMore: hasMore}, nil
}

// lockUserSequence ensures the counter row exists and returns its value while
// holding a row lock for the duration of the surrounding transaction.
func (s *Service) lockUserSequence(transaction *gorm.DB, userID UserID) (int64, error) {
	seed := UserSequence{UserID: userID.String()}
	if err := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		s.logError(opPushEntries, "sequence_seed_failed", err, zap.String(fieldUserID, userID.String()))
		return 0, newServiceError(opPushEntries, "sequence_seed_failed", err)
	}

	var counter UserSequence
	err := transaction.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryUserID, userID.String()).
		Take(&counter).Error
	if err != nil {
		s.logError(opPushEntries, "sequence_lock_failed", err, zap.String(fieldUserID, userID.String()))
		return 0, newServiceError(opPushEntries, "sequence_lock_failed", err)
	}
	return counter.LastSequence, nil
}

func vaultKeyRecordFromModel(model VaultKey) VaultKeyRecord {
	return VaultKeyRecord{
		ID:           model.ID,
		VaultID:      model.VaultID,
		EncryptedKey: model.EncryptedKey,
		Salt:         model.Salt,
		Nonce:        model.Nonce,
		CreatedAt:    model.CreatedAt,
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("vault service error", attrs...)
}
