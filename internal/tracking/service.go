package tracking

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"beacon/internal/jobs"
)

var (
	ErrNotFound        = errors.New("tracking not found")
	ErrInvalidKind     = errors.New("invalid tracking kind")
	ErrNoTrackings     = errors.New("no trackings selected")
	ErrUnknownTracking = errors.New("tracking does not belong to customer")
)

type Service struct {
	DB  *gorm.DB
	Log *zap.Logger
}

type CreateInput struct {
	Name              string
	Kind              string
	MeasurementDomain string
}

// SubmitBatchInput names the trackings to provision for one customer.
// Duplicate ids are collapsed before the batch is sized.
type SubmitBatchInput struct {
	TenantID    uint64
	UserID      uint64
	CustomerID  uint64
	TrackingIDs []uint64
	Priority    int
}

func (s *Service) Create(ctx context.Context, customerID uint64, in CreateInput) (*Tracking, error) {
	if !ValidKind(in.Kind) {
		return nil, ErrInvalidKind
	}
	tr := Tracking{
		CustomerID:        customerID,
		Name:              strings.TrimSpace(in.Name),
		Kind:              in.Kind,
		MeasurementDomain: strings.TrimSpace(strings.ToLower(in.MeasurementDomain)),
		ProvisionState:    StateUnprovisioned,
	}
	if err := s.DB.WithContext(ctx).Create(&tr).Error; err != nil {
		return nil, err
	}
	return &tr, nil
}

func (s *Service) Get(ctx context.Context, customerID, id uint64) (*Tracking, error) {
	var tr Tracking
	err := s.DB.WithContext(ctx).
		Where("customer_id = ? and id = ?", customerID, id).
		First(&tr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (s *Service) List(ctx context.Context, customerID uint64) ([]Tracking, error) {
	var out []Tracking
	err := s.DB.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

func (s *Service) Delete(ctx context.Context, customerID, id uint64) error {
	res := s.DB.WithContext(ctx).
		Where("customer_id = ? and id = ?", customerID, id).
		Delete(&Tracking{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SubmitBatch creates a PROCESSING batch plus one QUEUED job per tracking
// in a single transaction. Every tracking must belong to the customer or
// the whole submission is rejected.
func (s *Service) SubmitBatch(ctx context.Context, in SubmitBatchInput) (*jobs.Batch, error) {
	ids := dedupe(in.TrackingIDs)
	if len(ids) == 0 {
		return nil, ErrNoTrackings
	}
	priority := in.Priority
	if priority <= 0 {
		priority = 100
	}

	var batch jobs.Batch
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owned int64
		if err := tx.Model(&Tracking{}).
			Where("customer_id = ? and id in ?", in.CustomerID, ids).
			Count(&owned).Error; err != nil {
			return err
		}
		if owned != int64(len(ids)) {
			return ErrUnknownTracking
		}

		batch = jobs.Batch{
			TenantID:   in.TenantID,
			CustomerID: in.CustomerID,
			UserID:     in.UserID,
			TotalJobs:  len(ids),
			Status:     jobs.BatchProcessing,
		}
		if err := tx.Create(&batch).Error; err != nil {
			return err
		}

		queue := make([]jobs.Job, 0, len(ids))
		for _, id := range ids {
			queue = append(queue, jobs.Job{
				BatchID:    batch.ID,
				TrackingID: id,
				Status:     jobs.JobQueued,
				Priority:   priority,
			})
		}
		return tx.Create(&queue).Error
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("batch submitted",
		zap.Uint64("batch_id", batch.ID),
		zap.Uint64("customer_id", in.CustomerID),
		zap.Int("jobs", batch.TotalJobs))
	return &batch, nil
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
