package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"beacon/internal/mail"
)

var ErrUnknownSiteKey = errors.New("unknown site key")

// customerRow is the slice of the customers table the capture path needs.
type customerRow struct {
	ID           uint64 `gorm:"column:id"`
	TenantID     uint64 `gorm:"column:tenant_id"`
	Name         string `gorm:"column:name"`
	ContactEmail string `gorm:"column:contact_email"`
}

func (customerRow) TableName() string { return "customers" }

type Service struct {
	DB     *gorm.DB
	Mailer *mail.Mailer
	Log    *zap.Logger
}

type CaptureInput struct {
	SiteKey    string
	Email      string
	Name       string
	Message    string
	SourcePath string
}

// Capture stores a lead for the customer owning the site key. Notification
// mail goes out asynchronously so a slow SMTP server never delays the
// public endpoint.
func (s *Service) Capture(ctx context.Context, in CaptureInput) (*Lead, error) {
	var cust customerRow
	err := s.DB.WithContext(ctx).
		Where("site_key = ?", in.SiteKey).
		First(&cust).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownSiteKey
	}
	if err != nil {
		return nil, err
	}

	l := Lead{
		CustomerID: cust.ID,
		Email:      strings.ToLower(strings.TrimSpace(in.Email)),
		Name:       strings.TrimSpace(in.Name),
		Message:    strings.TrimSpace(in.Message),
		SourcePath: strings.TrimSpace(in.SourcePath),
	}
	if err := s.DB.WithContext(ctx).Create(&l).Error; err != nil {
		return nil, err
	}

	if s.Mailer != nil && s.Mailer.Enabled() && cust.ContactEmail != "" {
		go s.notify(cust, l)
	}
	return &l, nil
}

func (s *Service) List(ctx context.Context, customerID uint64) ([]Lead, error) {
	var out []Lead
	err := s.DB.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at desc").
		Limit(200).
		Find(&out).Error
	return out, err
}

func (s *Service) notify(cust customerRow, l Lead) {
	subject := fmt.Sprintf("New lead for %s", cust.Name)
	body := fmt.Sprintf("Name: %s\nEmail: %s\nPage: %s\n\n%s\n",
		l.Name, l.Email, l.SourcePath, l.Message)
	if err := s.Mailer.Send(cust.ContactEmail, subject, body); err != nil {
		s.Log.Warn("lead notification failed",
			zap.Uint64("customer_id", cust.ID), zap.Error(err))
	}
}
