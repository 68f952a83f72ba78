package tracking

import "time"

const (
	KindPageview    = "pageview"
	KindConversion  = "conversion"
	KindRemarketing = "remarketing"
)

const (
	StateUnprovisioned = "unprovisioned"
	StateProvisioned   = "provisioned"
)

// Tracking is one measurement target on a customer's site. TagRef and
// ConversionRef hold the provider resource names once provisioned.
type Tracking struct {
	ID                uint64 `gorm:"primaryKey"`
	CustomerID        uint64 `gorm:"index;not null"`
	Name              string `gorm:"not null"`
	Kind              string `gorm:"type:text;not null"`
	MeasurementDomain string `gorm:"not null"`
	ProvisionState    string `gorm:"type:text;not null;default:'unprovisioned'"`

	TagRef        *string `gorm:"type:text"`
	ConversionRef *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func ValidKind(k string) bool {
	switch k {
	case KindPageview, KindConversion, KindRemarketing:
		return true
	}
	return false
}
