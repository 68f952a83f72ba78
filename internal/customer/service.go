package customer

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("customer not found")

type Service struct {
	DB *gorm.DB
}

type CreateInput struct {
	Name              string
	DomainURL         string
	ContactEmail      string
	ConsentCategories []string
}

type UpdateInput struct {
	Name         string
	DomainURL    string
	ContactEmail string
}

type LinkGoogleAccountInput struct {
	AccountEmail string
	ContainerID  string
	AdsAccountID string
	AccessToken  string
}

func (s *Service) Create(ctx context.Context, tenantID uint64, in CreateInput) (*Customer, error) {
	c := Customer{
		TenantID:          tenantID,
		Name:              strings.TrimSpace(in.Name),
		DomainURL:         normalizeDomain(in.DomainURL),
		ContactEmail:      strings.TrimSpace(in.ContactEmail),
		ConsentCategories: pq.StringArray(in.ConsentCategories),
		SiteKey:           uuid.NewString(),
	}
	if c.ConsentCategories == nil {
		c.ConsentCategories = pq.StringArray{}
	}
	if err := s.DB.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uint64) (*Customer, error) {
	var c Customer
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? and id = ?", tenantID, id).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) List(ctx context.Context, tenantID uint64) ([]Customer, error) {
	var out []Customer
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc").
		Limit(100).
		Find(&out).Error
	return out, err
}

func (s *Service) Update(ctx context.Context, tenantID, id uint64, in UpdateInput) (*Customer, error) {
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	c.Name = strings.TrimSpace(in.Name)
	c.DomainURL = normalizeDomain(in.DomainURL)
	c.ContactEmail = strings.TrimSpace(in.ContactEmail)
	if err := s.DB.WithContext(ctx).Save(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// SetConsent replaces the customer's consent categories wholesale.
func (s *Service) SetConsent(ctx context.Context, tenantID, id uint64, categories []string) (*Customer, error) {
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	c.ConsentCategories = pq.StringArray(categories)
	if c.ConsentCategories == nil {
		c.ConsentCategories = pq.StringArray{}
	}
	if err := s.DB.WithContext(ctx).Model(c).Update("consent_categories", c.ConsentCategories).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// LinkGoogleAccount attaches provisioning credentials to a customer,
// replacing any account linked before.
func (s *Service) LinkGoogleAccount(ctx context.Context, tenantID, customerID uint64, in LinkGoogleAccountInput) (*GoogleAccount, error) {
	if _, err := s.Get(ctx, tenantID, customerID); err != nil {
		return nil, err
	}
	acct := GoogleAccount{
		CustomerID:   customerID,
		AccountEmail: strings.TrimSpace(in.AccountEmail),
		ContainerID:  strings.TrimSpace(in.ContainerID),
		AdsAccountID: strings.TrimSpace(in.AdsAccountID),
		AccessToken:  in.AccessToken,
	}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "customer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"account_email", "container_id", "ads_account_id", "access_token", "updated_at",
			}),
		}).
		Create(&acct).Error
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func normalizeDomain(raw string) string {
	d := strings.TrimSpace(strings.ToLower(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimSuffix(d, "/")
}
