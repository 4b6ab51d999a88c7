package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/listmill/listmill/internal/db"
	"github.com/listmill/listmill/internal/models"
)

// setupTestDB creates an in-memory SQLite database with migrations applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return database.DB
}

func createTestCampaign(t *testing.T, repo *CampaignRepository, status string, scheduledAt *time.Time) *models.Campaign {
	t.Helper()

	c := &models.Campaign{
		Subject:  "Monthly digest",
		HTMLBody: `<html><body><a href="https://example.com/post">Read</a></body></html>`,
		Status:   models.CampaignStatusDraft,
	}
	if err := repo.Create(c); err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}

	if status != models.CampaignStatusDraft {
		at := time.Now().Add(-time.Minute)
		if scheduledAt != nil {
			at = *scheduledAt
		}
		if err := repo.Schedule(c.ID, at); err != nil {
			t.Fatalf("failed to schedule campaign: %v", err)
		}
		c.Status = models.CampaignStatusScheduled
		c.ScheduledAt = &at
	}

	return c
}

func createTestSubscriber(t *testing.T, repo *SubscriberRepository, email, status, tags string) *models.Subscriber {
	t.Helper()

	s := &models.Subscriber{Email: email, Status: status, Tags: tags}
	if err := repo.Create(s); err != nil {
		t.Fatalf("failed to create subscriber: %v", err)
	}
	return s
}
