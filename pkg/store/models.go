package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type SignupKeyModel struct {
	Token     string    `gorm:"primaryKey"`
	Revoked   bool      `gorm:"not null;default:false"`
	UsedBy    *string   `gorm:"index"`
	CreatedAt time.Time `gorm:"not null;index"`
	UsedAt    *time.Time
}

// PolicyModel stores one tenant's policy document. Version backs the
// compare-and-swap used by policy updates.
type PolicyModel struct {
	Tenant    string         `gorm:"primaryKey"`
	Version   int64          `gorm:"not null"`
	Document  datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type DailyUsageModel struct {
	PrincipalID string    `gorm:"primaryKey"`
	Day         string    `gorm:"primaryKey"`
	UsedCount   int       `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type TokenUsageModel struct {
	ModelKey     string    `gorm:"primaryKey"`
	InputTokens  int64     `gorm:"not null"`
	OutputTokens int64     `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}
