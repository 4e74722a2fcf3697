package identity

import "time"

// Identity mirrors an identity-provider user inside the sync database. The
// provider owns the account lifecycle; this row exists so vault data has a
// local owner reference and so operators can see which users are active.
type Identity struct {
	UserID     string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email      string    `gorm:"column:email;size:320"`
	Role       string    `gorm:"column:role;size:64"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identity mirrors.
func (Identity) TableName() string {
	return "user_identities"
}
