package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/listmill/listmill/internal/models"
)

type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// Enqueue inserts one queued recipient per subscriber, snapshotting the email
// address. Rows that already exist for (campaign, subscriber) are skipped, so
// re-running fan-out for the same campaign never duplicates recipients.
func (r *RecipientRepository) Enqueue(campaignID string, subscribers []models.Subscriber) error {
	if len(subscribers) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin fan-out transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO campaign_recipients (id, campaign_id, subscriber_id, email, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id, subscriber_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, s := range subscribers {
		_, err := stmt.Exec(uuid.New().String(), campaignID, s.ID, s.Email, models.RecipientStatusQueued, now)
		if err != nil {
			return fmt.Errorf("failed to enqueue recipient %s: %w", s.ID, err)
		}
	}

	return tx.Commit()
}

// ClaimBatch atomically marks up to limit queued recipients of a campaign
// with a fresh claim token and returns them. Rows already carrying a live
// claim are skipped, so concurrent invocations never select the same rows;
// claims older than the lease are treated as abandoned and reclaimed.
func (r *RecipientRepository) ClaimBatch(campaignID string, limit int, lease time.Duration) ([]models.Recipient, error) {
	token := uuid.New().String()
	now := time.Now()
	staleBefore := now.Add(-lease)

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE campaign_recipients SET claim_token = ?, claimed_at = ?
		WHERE id IN (
			SELECT id FROM campaign_recipients
			WHERE campaign_id = ? AND status = ?
			AND (claim_token IS NULL OR claimed_at <= ?)
			ORDER BY created_at
			LIMIT ?
		)`,
		token, now, campaignID, models.RecipientStatusQueued, staleBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	rows, err := tx.Query(`
		SELECT id, campaign_id, subscriber_id, email, status, created_at
		FROM campaign_recipients
		WHERE claim_token = ?
		ORDER BY created_at`, token,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []models.Recipient{}
	for rows.Next() {
		var rec models.Recipient
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.SubscriberID, &rec.Email, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return recipients, nil
}

// MarkSent moves a recipient to its terminal sent status. Returns false when
// the row had already left queued: a run resuming after its claim lease
// expired must not count a delivery another invocation already recorded.
func (r *RecipientRepository) MarkSent(id string, at time.Time) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE campaign_recipients SET status = ?, sent_at = ?, claim_token = NULL
		WHERE id = ? AND status = ?`,
		models.RecipientStatusSent, at, id, models.RecipientStatusQueued,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkFailed moves a recipient to its terminal failed status with the
// transport error recorded. Failed recipients are never retried. Returns
// false when the row had already left queued.
func (r *RecipientRepository) MarkFailed(id string, errorMessage string) (bool, error) {
	errorMessage = trimError(errorMessage)
	if errorMessage == "" {
		errorMessage = "send failed"
	}
	res, err := r.db.Exec(`
		UPDATE campaign_recipients SET status = ?, error_message = ?, claim_token = NULL
		WHERE id = ? AND status = ?`,
		models.RecipientStatusFailed, errorMessage, id, models.RecipientStatusQueued,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkOpened stamps the first open for a recipient. Returns true only on the
// first occurrence; repeat opens leave the row untouched.
func (r *RecipientRepository) MarkOpened(campaignID, subscriberID string, at time.Time) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE campaign_recipients SET opened_at = ?
		WHERE campaign_id = ? AND subscriber_id = ? AND opened_at IS NULL`,
		at, campaignID, subscriberID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkClicked stamps the first click for a recipient. Returns true only on
// the first occurrence.
func (r *RecipientRepository) MarkClicked(campaignID, subscriberID string, at time.Time) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE campaign_recipients SET clicked_at = ?
		WHERE campaign_id = ? AND subscriber_id = ? AND clicked_at IS NULL`,
		at, campaignID, subscriberID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetStats returns per-status recipient counts for a campaign.
func (r *RecipientRepository) GetStats(campaignID string) (*models.RecipientStats, error) {
	rows, err := r.db.Query(`
		SELECT status, COUNT(*) FROM campaign_recipients
		WHERE campaign_id = ? GROUP BY status`, campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.RecipientStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch status {
		case models.RecipientStatusQueued:
			stats.Queued = count
		case models.RecipientStatusSent:
			stats.Sent = count
		case models.RecipientStatusFailed:
			stats.Failed = count
		}
	}

	return stats, rows.Err()
}

// ListByCampaign returns all recipients of a campaign, optionally filtered by
// status.
func (r *RecipientRepository) ListByCampaign(campaignID string, status string) ([]models.Recipient, error) {
	query := `
		SELECT id, campaign_id, subscriber_id, email, status, sent_at, opened_at,
			clicked_at, COALESCE(error_message, ''), created_at
		FROM campaign_recipients WHERE campaign_id = ?`
	args := []any{campaignID}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []models.Recipient{}
	for rows.Next() {
		var rec models.Recipient
		err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.SubscriberID, &rec.Email, &rec.Status,
			&rec.SentAt, &rec.OpenedAt, &rec.ClickedAt, &rec.ErrorMessage, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}

	return recipients, rows.Err()
}

// trimError keeps transport error text at a storable size.
func trimError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 500 {
		return s[:500]
	}
	return s
}
