package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/listmill/listmill/internal/models"
)

// SubscriberRepository reads the subscriber base owned by the signup side of
// the platform. Create exists for seeding and tests; the pipeline itself
// never mutates subscribers.
type SubscriberRepository struct {
	db *sql.DB
}

func NewSubscriberRepository(db *sql.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// Create inserts a subscriber.
func (r *SubscriberRepository) Create(s *models.Subscriber) error {
	s.ID = uuid.New().String()
	if s.Status == "" {
		s.Status = models.SubscriberStatusPending
	}
	if s.UnsubscribeToken == "" {
		s.UnsubscribeToken = uuid.New().String()
	}
	s.CreatedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO subscribers (id, email, status, tags, unsubscribe_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Email, s.Status, s.Tags, s.UnsubscribeToken, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	return nil
}

// GetByID returns a subscriber by ID, or nil if it does not exist.
func (r *SubscriberRepository) GetByID(id string) (*models.Subscriber, error) {
	s := &models.Subscriber{}
	var tags sql.NullString
	err := r.db.QueryRow(`
		SELECT id, email, status, tags, unsubscribe_token, created_at
		FROM subscribers WHERE id = ?`, id,
	).Scan(&s.ID, &s.Email, &s.Status, &tags, &s.UnsubscribeToken, &s.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Tags = tags.String
	return s, nil
}

// ListActive returns active subscribers, optionally restricted to those
// carrying the given tag. Tags are stored as a JSON array, so the tag filter
// matches the quoted element like the recipient tag filters elsewhere.
func (r *SubscriberRepository) ListActive(tag string) ([]models.Subscriber, error) {
	query := `
		SELECT id, email, status, tags, unsubscribe_token, created_at
		FROM subscribers WHERE status = ?`
	args := []any{models.SubscriberStatusActive}

	if tag != "" {
		query += " AND tags LIKE ?"
		args = append(args, "%\""+tag+"\"%")
	}

	query += " ORDER BY created_at"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subscribers := []models.Subscriber{}
	for rows.Next() {
		var s models.Subscriber
		var tags sql.NullString
		if err := rows.Scan(&s.ID, &s.Email, &s.Status, &tags, &s.UnsubscribeToken, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Tags = tags.String
		subscribers = append(subscribers, s)
	}

	return subscribers, rows.Err()
}
