package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

const postColumns = `id, org_id, state, scheduled_for, published_at, payloads, created_at, updated_at`

func scanPost(row interface {
	Scan(dest ...interface{}) error
}) (*models.Post, error) {
	var post models.Post
	var payloads payloadMap
	err := row.Scan(
		&post.ID, &post.OrgID, &post.State, &post.ScheduledFor,
		&post.PublishedAt, &payloads, &post.CreatedAt, &post.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	post.Payloads = payloads
	return &post, nil
}

// CreatePost stores a new draft post and returns it.
func (s *Store) CreatePost(ctx context.Context, orgID string, payloads map[models.Platform]string) (*models.Post, error) {
	id := uuid.New().String()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO herald_posts (id, org_id, state, payloads)
		VALUES ($1, $2, 'draft', $3)
		RETURNING `+postColumns+`
	`, id, orgID, payloadMap(payloads))
	return scanPost(row)
}

// GetPost retrieves a post by id.
func (s *Store) GetPost(ctx context.Context, id string) (*models.Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM herald_posts
		WHERE id = $1
	`, id)
	return scanPost(row)
}

// SchedulePost moves a draft (or reschedules a scheduled post) to state
// 'scheduled' with the given timestamp. Published posts are not touched.
func (s *Store) SchedulePost(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE herald_posts
		SET state = 'scheduled', scheduled_for = $1, updated_at = NOW()
		WHERE id = $2 AND state != 'published'
	`, at, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPublished stamps a post as published. Only called when every requested
// platform succeeded; partial failures leave the row untouched so a later
// dispatch can retry.
func (s *Store) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE herald_posts
		SET state = 'published', published_at = $1, updated_at = NOW()
		WHERE id = $2
	`, at, id)
	return err
}

// ListDuePosts returns scheduled posts whose time has come, oldest first.
func (s *Store) ListDuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM herald_posts
		WHERE state = 'scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}
