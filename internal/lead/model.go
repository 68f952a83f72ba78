package lead

import "time"

// Lead is a contact captured through a customer's public site form.
type Lead struct {
	ID         uint64 `gorm:"primaryKey"`
	CustomerID uint64 `gorm:"index;not null"`
	Email      string `gorm:"not null"`
	Name       string
	Message    string `gorm:"type:text"`
	SourcePath string

	CreatedAt time.Time `gorm:"not null"`
}
