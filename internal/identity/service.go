package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haexhub/haex-sync/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("identity: invalid identity")

// ServiceConfig describes the dependencies required for identity mirroring.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service keeps the local identity mirror in step with verified tokens.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Record upserts the identity row for the verified claims and returns the
// user identifier. Email and role are refreshed when the provider reports
// new values; blanks never overwrite known data.
func (s *Service) Record(ctx context.Context, claims auth.IdentityClaims) (string, error) {
	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return "", ErrInvalidIdentity
	}

	row := Identity{
		UserID:     userID,
		Email:      strings.TrimSpace(claims.Email),
		Role:       strings.TrimSpace(claims.Role),
		LastSeenAt: s.now().UTC(),
	}

	assignments := map[string]interface{}{
		"last_seen_at": row.LastSeenAt,
	}
	if row.Email != "" {
		assignments["email"] = row.Email
	}
	if row.Role != "" {
		assignments["role"] = row.Role
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(&row).Error
	if err != nil {
		return "", err
	}

	return userID, nil
}
