package vault

import (
	"errors"
	"strings"
	"testing"
)

const wellFormedVaultID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

func TestNewVaultIDAcceptsUUID(t *testing.T) {
	id, err := NewVaultID("  " + wellFormedVaultID + "  ")
	if err != nil {
		t.Fatalf("expected uuid to be accepted: %v", err)
	}
	if id.String() != wellFormedVaultID {
		t.Fatalf("expected normalized uuid, got %q", id.String())
	}
}

func TestNewVaultIDRejectsNonUUID(t *testing.T) {
	cases := []string{"", "   ", "vault-1", "not-a-uuid", "6ba7b810"}
	for _, raw := range cases {
		if _, err := NewVaultID(raw); !errors.Is(err, ErrInvalidVaultID) {
			t.Fatalf("expected ErrInvalidVaultID for %q, got %v", raw, err)
		}
	}
}

func TestNewUserIDBounds(t *testing.T) {
	if _, err := NewUserID(""); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected empty user id to be rejected, got %v", err)
	}
	if _, err := NewUserID(strings.Repeat("x", maxIdentifierLength+1)); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected oversized user id to be rejected, got %v", err)
	}
	id, err := NewUserID(" user-1 ")
	if err != nil {
		t.Fatalf("expected user id to be accepted: %v", err)
	}
	if id.String() != "user-1" {
		t.Fatalf("expected trimmed user id, got %q", id.String())
	}
}

func TestNewCipherTextRejectsEmpty(t *testing.T) {
	if _, err := NewCipherText("   "); !errors.Is(err, ErrInvalidCipherText) {
		t.Fatalf("expected blank cipher text to be rejected, got %v", err)
	}
	payload, err := NewCipherText("opaque==")
	if err != nil {
		t.Fatalf("expected cipher text to be accepted: %v", err)
	}
	if payload.String() != "opaque==" {
		t.Fatalf("expected payload to be preserved verbatim, got %q", payload.String())
	}
}

func TestNewHaexTimestampBounds(t *testing.T) {
	if _, err := NewHaexTimestamp(""); !errors.Is(err, ErrInvalidHaexTimestamp) {
		t.Fatalf("expected empty timestamp to be rejected, got %v", err)
	}
	if _, err := NewHaexTimestamp(strings.Repeat("t", maxTimestampLength+1)); !errors.Is(err, ErrInvalidHaexTimestamp) {
		t.Fatalf("expected oversized timestamp to be rejected, got %v", err)
	}
	ts, err := NewHaexTimestamp("2026-07-01T00:00:00.000Z-0001-device-a")
	if err != nil {
		t.Fatalf("expected timestamp to be accepted: %v", err)
	}
	if ts.String() == "" {
		t.Fatalf("expected timestamp value to be preserved")
	}
}
