package db

import (
	"fmt"

	"beacon/internal/auth"
	"beacon/internal/customer"
	"beacon/internal/jobs"
	"beacon/internal/lead"
	"beacon/internal/tracking"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&auth.Tenant{},
		&auth.User{},
		&customer.Customer{},
		&customer.GoogleAccount{},
		&tracking.Tracking{},
		&jobs.Batch{},
		&jobs.Job{},
		&lead.Lead{},
	); err != nil {
		return err
	}

	// Consent filter (GIN for text[])
	if err := gdb.Exec(`create index if not exists idx_customers_consent on customers using gin (consent_categories);`).Error; err != nil {
		return err
	}

	// Dispatcher pick order, restricted to jobs that can still run
	if err := gdb.Exec(`
create index if not exists idx_jobs_eligible
on jobs(priority, created_at, id)
where status in ('QUEUED','RETRYING');
`).Error; err != nil {
		return err
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_jobs_batch_status on jobs(batch_id, status);`,
		`create index if not exists idx_jobs_stuck on jobs(status, started_at);`,
		`create index if not exists idx_batches_resume on batches(status, resume_after);`,
		`create index if not exists idx_batches_tenant_created on batches(tenant_id, created_at desc);`,
		`create index if not exists idx_trackings_customer on trackings(customer_id, created_at);`,
		`create index if not exists idx_leads_customer_created on leads(customer_id, created_at desc);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
