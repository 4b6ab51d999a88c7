package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/listmill/listmill/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new draft campaign.
func (r *CampaignRepository) Create(c *models.Campaign) error {
	c.ID = uuid.New().String()
	if c.Status == "" {
		c.Status = models.CampaignStatusDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO campaigns (id, subject, html_body, plain_text_body, status, target_tag,
			scheduled_at, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Subject, c.HTMLBody, c.PlainTextBody, c.Status, c.TargetTag,
		c.ScheduledAt, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil if it does not exist.
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	c := &models.Campaign{}
	var plainText, targetTag, createdBy sql.NullString
	err := r.db.QueryRow(`
		SELECT id, subject, html_body, plain_text_body, status, target_tag,
			scheduled_at, sent_at, total_recipients, total_sent, total_opened,
			total_clicked, total_bounced, total_unsubscribed, created_by, created_at, updated_at
		FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Subject, &c.HTMLBody, &plainText, &c.Status, &targetTag,
		&c.ScheduledAt, &c.SentAt, &c.TotalRecipients, &c.TotalSent, &c.TotalOpened,
		&c.TotalClicked, &c.TotalBounced, &c.TotalUnsubscribed, &createdBy, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.PlainTextBody = plainText.String
	c.TargetTag = targetTag.String
	c.CreatedBy = createdBy.String
	return c, nil
}

// ListDue returns scheduled campaigns whose scheduled_at has passed.
func (r *CampaignRepository) ListDue(now time.Time) ([]models.Campaign, error) {
	rows, err := r.db.Query(`
		SELECT id, subject, html_body, plain_text_body, status, target_tag,
			scheduled_at, total_recipients, created_at, updated_at
		FROM campaigns
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at`,
		models.CampaignStatusScheduled, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		var c models.Campaign
		var plainText, targetTag sql.NullString
		err := rows.Scan(&c.ID, &c.Subject, &c.HTMLBody, &plainText, &c.Status, &targetTag,
			&c.ScheduledAt, &c.TotalRecipients, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		c.PlainTextBody = plainText.String
		c.TargetTag = targetTag.String
		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}

// Schedule moves a draft campaign to scheduled at the given time.
func (r *CampaignRepository) Schedule(id string, at time.Time) error {
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.CampaignStatusScheduled, at, time.Now(), id, models.CampaignStatusDraft,
	)
	if err != nil {
		return err
	}
	return requireTransition(res, id)
}

// Cancel moves a draft or scheduled campaign to cancelled.
func (r *CampaignRepository) Cancel(id string) error {
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.CampaignStatusCancelled, time.Now(), id,
		models.CampaignStatusDraft, models.CampaignStatusScheduled,
	)
	if err != nil {
		return err
	}
	return requireTransition(res, id)
}

// MarkSending flips a scheduled campaign to sending and records the size of
// the fanned-out recipient set. It is the last write of a fan-out, so a
// failed fan-out leaves the campaign scheduled for the next tick.
func (r *CampaignRepository) MarkSending(id string, totalRecipients int) error {
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, total_recipients = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.CampaignStatusSending, totalRecipients, time.Now(), id, models.CampaignStatusScheduled,
	)
	if err != nil {
		return err
	}
	return requireTransition(res, id)
}

// MarkSent finalizes a drained campaign.
func (r *CampaignRepository) MarkSent(id string, at time.Time) error {
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, sent_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.CampaignStatusSent, at, time.Now(), id, models.CampaignStatusSending,
	)
	if err != nil {
		return err
	}
	return requireTransition(res, id)
}

// AddSendResults increments the sent/bounced counters after a delivery batch
// has been persisted. This is the worker's checkpoint.
func (r *CampaignRepository) AddSendResults(id string, sent, bounced int) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET total_sent = total_sent + ?, total_bounced = total_bounced + ?, updated_at = ?
		WHERE id = ?`,
		sent, bounced, time.Now(), id,
	)
	return err
}

// IncrementOpened bumps the unique-open counter.
func (r *CampaignRepository) IncrementOpened(id string) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET total_opened = total_opened + 1, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	return err
}

// IncrementClicked bumps the unique-click counter.
func (r *CampaignRepository) IncrementClicked(id string) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET total_clicked = total_clicked + 1, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	return err
}

// requireTransition turns a zero-row UPDATE into an error so illegal status
// transitions surface instead of passing silently.
func requireTransition(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("campaign %s: no matching row for status transition", id)
	}
	return nil
}
