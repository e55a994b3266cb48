package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/suiteshq/suites-backend/pkg/billing"
)

// CronManager manages scheduled jobs
type CronManager struct {
	cron     *cron.Cron
	reporter *billing.Reporter
	logger   *log.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(reporter *billing.Reporter, logger *log.Logger) *CronManager {
	if logger == nil {
		logger = log.Default()
	}

	return &CronManager{
		cron:     cron.New(),
		reporter: reporter,
		logger:   logger,
	}
}

// SetupJobs configures all scheduled jobs. schedule is a standard 5-field
// cron expression; the default reports usage at 23:59 daily.
func (cm *CronManager) SetupJobs(schedule string) error {
	cm.logger.Println("Setting up cron jobs...")

	_, err := cm.cron.AddFunc(schedule, func() {
		cm.logger.Println("🕐 Running daily usage report job...")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()

		if err := cm.reporter.Run(ctx); err != nil {
			cm.logger.Printf("❌ Usage report job failed: %v", err)
			return
		}

		cm.logger.Println("✅ Daily usage report job completed")
	})
	return err
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.cron.Start()
	cm.logger.Println("✅ Cron jobs started")
}

// Stop stops the cron scheduler
func (cm *CronManager) Stop() {
	cm.cron.Stop()
	cm.logger.Println("Cron jobs stopped")
}
