package vault

import (
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *gorm.DB {
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
	if err := db.AutoMigrate(&VaultKey{}, &VaultLogEntry{}, &UserSequence{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   newTestDatabase(t),
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build vault service: %v", err)
	}
	return service
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustVaultID(t *testing.T, value string) VaultID {
	t.Helper()
	id, err := NewVaultID(value)
	if err != nil {
		t.Fatalf("unexpected vault id error: %v", err)
	}
	return id
}

func mustCipherText(t *testing.T, value string) CipherText {
	t.Helper()
	payload, err := NewCipherText(value)
	if err != nil {
		t.Fatalf("unexpected cipher text error: %v", err)
	}
	return payload
}

func mustHaexTimestamp(t *testing.T, value string) HaexTimestamp {
	t.Helper()
	ts, err := NewHaexTimestamp(value)
	if err != nil {
		t.Fatalf("unexpected haex timestamp error: %v", err)
	}
	return ts
}

func mustEntry(t *testing.T, data, nonce, haexTimestamp string) EntryInput {
	t.Helper()
	return EntryInput{
		EncryptedData: mustCipherText(t, data),
		Nonce:         mustCipherText(t, nonce),
		HaexTimestamp: mustHaexTimestamp(t, haexTimestamp),
	}
}

func mustVaultKeyParams(t *testing.T, vaultID string) VaultKeyParams {
	t.Helper()
	return VaultKeyParams{
		VaultID:      mustVaultID(t, vaultID),
		EncryptedKey: mustCipherText(t, "enc-key"),
		Salt:         mustCipherText(t, "salt"),
		Nonce:        mustCipherText(t, "nonce"),
	}
}
