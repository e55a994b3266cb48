package database

import (
	"context"
	"fmt"
	"log"

	"github.com/suiteshq/suites-backend/pkg/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Client holds the database handle
type Client struct {
	DB *gorm.DB
}

// NewClient opens a Postgres connection and applies schema migrations
func NewClient(databaseURL string) (*Client, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to postgres: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("✅ Database connected and migrations applied")

	return &Client{DB: db}, nil
}

// Migrate applies the billing schema. Also used by tests against SQLite.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Tool{},
		&models.Plan{},
		&models.Feature{},
		&models.PlanFeature{},
		&models.Subscription{},
		&models.ToolSubscription{},
		&models.BillingCustomer{},
	)
	if err != nil {
		return fmt.Errorf("failed migrating schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
