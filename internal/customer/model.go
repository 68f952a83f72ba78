package customer

import (
	"time"

	"github.com/lib/pq"
)

// Customer is a managed end client of a tenant. SiteKey authenticates the
// public surfaces embedded on the customer's site (lead capture, snippet).
type Customer struct {
	ID           uint64 `gorm:"primaryKey"`
	TenantID     uint64 `gorm:"index;not null"`
	Name         string `gorm:"not null"`
	DomainURL    string `gorm:"not null"`
	ContactEmail string

	ConsentCategories pq.StringArray `gorm:"type:text[];not null;default:'{}'"`

	SiteKey string `gorm:"uniqueIndex;not null"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// GoogleAccount holds the provisioning credentials for one customer.
// One per customer; relinking replaces it.
type GoogleAccount struct {
	ID           uint64 `gorm:"primaryKey"`
	CustomerID   uint64 `gorm:"uniqueIndex;not null"`
	AccountEmail string `gorm:"not null"`
	ContainerID  string `gorm:"not null"`
	AdsAccountID string `gorm:"not null"`
	AccessToken  string `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
