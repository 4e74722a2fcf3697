package vault

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxIdentifierLength = 190
	maxTimestampLength  = 190
)

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("vault: invalid user id")
	// ErrInvalidVaultID indicates that a vault identifier is not a UUID.
	ErrInvalidVaultID = errors.New("vault: invalid vault id")
	// ErrInvalidCipherText indicates that an opaque encrypted field is empty.
	ErrInvalidCipherText = errors.New("vault: invalid cipher text")
	// ErrInvalidHaexTimestamp indicates that a client timestamp is empty or exceeds storage bounds.
	ErrInvalidHaexTimestamp = errors.New("vault: invalid haex timestamp")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// VaultID represents a validated, client-chosen vault identifier.
type VaultID string

// NewVaultID validates raw input and returns a VaultID.
func NewVaultID(rawInput string) (VaultID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidVaultID)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: not a uuid", ErrInvalidVaultID)
	}
	return VaultID(parsed.String()), nil
}

// String returns the underlying string identifier.
func (id VaultID) String() string {
	return string(id)
}

// CipherText stores an opaque encrypted field exactly as the client sent it.
// The server never decodes or interprets the value.
type CipherText string

// NewCipherText validates raw input and returns a CipherText.
func NewCipherText(rawInput string) (CipherText, error) {
	if strings.TrimSpace(rawInput) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCipherText)
	}
	return CipherText(rawInput), nil
}

// String returns the opaque payload as a string.
func (payload CipherText) String() string {
	return string(payload)
}

// HaexTimestamp stores a client-generated hybrid logical clock value. It is
// opaque to the server and used only as a per-user uniqueness token.
type HaexTimestamp string

// NewHaexTimestamp validates raw input and returns a HaexTimestamp.
func NewHaexTimestamp(rawInput string) (HaexTimestamp, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidHaexTimestamp)
	}
	if len(trimmed) > maxTimestampLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidHaexTimestamp, maxTimestampLength)
	}
	return HaexTimestamp(trimmed), nil
}

// String returns the underlying timestamp string.
func (ts HaexTimestamp) String() string {
	return string(ts)
}

// VaultKey stores the one encrypted symmetric key blob per (user, vault).
type VaultKey struct {
	ID           string    `gorm:"column:id;primaryKey;size:36;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_vault_keys_user_vault,priority:1"`
	VaultID      string    `gorm:"column:vault_id;size:36;not null;uniqueIndex:idx_vault_keys_user_vault,priority:2"`
	EncryptedKey string    `gorm:"column:encrypted_key;type:text;not null"`
	Salt         string    `gorm:"column:salt;type:text;not null"`
	Nonce        string    `gorm:"column:nonce;type:text;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VaultKey) TableName() string {
	return "vault_keys"
}

// VaultLogEntry stores one append-only encrypted change log row. Sequence is
// unique per user across all vaults; the haex timestamp is unique per user.
type VaultLogEntry struct {
	ID            string    `gorm:"column:id;primaryKey;size:36;not null"`
	UserID        string    `gorm:"column:user_id;size:190;not null;index:idx_vault_log_user_vault_seq,priority:1;uniqueIndex:idx_vault_log_user_seq,priority:1;uniqueIndex:idx_vault_log_user_ts,priority:1"`
	VaultID       string    `gorm:"column:vault_id;size:36;not null;index:idx_vault_log_user_vault_seq,priority:2"`
	EncryptedData string    `gorm:"column:encrypted_data;type:text;not null"`
	Nonce         string    `gorm:"column:nonce;type:text;not null"`
	HaexTimestamp string    `gorm:"column:haex_timestamp;size:190;not null;uniqueIndex:idx_vault_log_user_ts,priority:2"`
	Sequence      int64     `gorm:"column:sequence;not null;uniqueIndex:idx_vault_log_user_seq,priority:2;index:idx_vault_log_user_vault_seq,priority:3"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VaultLogEntry) TableName() string {
	return "vault_log_entries"
}

// UserSequence carries the last sequence number assigned to a user. The push
// transaction locks this row so concurrent pushes serialize per user.
type UserSequence struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	LastSequence int64     `gorm:"column:last_sequence;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (UserSequence) TableName() string {
	return "user_sequences"
}

// VaultKeyParams describes the input supplied by a client registering a vault key.
type VaultKeyParams struct {
	VaultID      VaultID
	EncryptedKey CipherText
	Salt         CipherText
	Nonce        CipherText
}

// VaultKeyRecord captures a stored vault key.
type VaultKeyRecord struct {
	ID           string
	VaultID      string
	EncryptedKey string
	Salt         string
	Nonce        string
	CreatedAt    time.Time
}

// EntryInput describes one encrypted log entry submitted during push.
type EntryInput struct {
	EncryptedData CipherText
	Nonce         CipherText
	HaexTimestamp HaexTimestamp
}

// PushReceipt captures the server-assigned metadata for one pushed entry.
type PushReceipt struct {
	ID            string
	Sequence      int64
	HaexTimestamp string
	CreatedAt     time.Time
}

// PushResult aggregates receipts for one push batch, in submission order.
type PushResult struct {
	Count    int
	Receipts []PushReceipt
}

// EntryRecord captures a stored log entry returned during pull.
type EntryRecord struct {
	ID            string
	EncryptedData string
	Nonce         string
	HaexTimestamp string
	Sequence      int64
	CreatedAt     time.Time
}

// PullResult carries one page of log entries plus the pagination flag.
type PullResult struct {
	Entries []EntryRecord
	HasMore bool
}
