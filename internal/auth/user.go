package auth

import "time"

// Tenant is an agency workspace. Every customer, batch and user hangs off one.
type Tenant struct {
	ID        uint64    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type User struct {
	ID           uint64    `gorm:"primaryKey"`
	TenantID     uint64    `gorm:"index;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}
