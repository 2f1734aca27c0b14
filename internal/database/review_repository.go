package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/northpress/syndicate/internal/domain"
)

const reviewSelectList = `id, site_id, item_id, editor_id, state, body, created_at, updated_at`

// ReviewRepository manages post reviews in PostgreSQL. The snapshot and
// message thread travel in one JSON body column.
type ReviewRepository struct {
	db *sql.DB
}

// NewReviewRepository creates a new repository.
func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create persists a new review.
func (r *ReviewRepository) Create(ctx context.Context, review *domain.PostReview) error {
	body, err := domain.EncodeReviewBody(review)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO post_reviews
			(id, site_id, item_id, editor_id, state, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query,
		review.ID, review.SiteID, review.ItemID, review.EditorID,
		review.State, body, review.CreatedAt, review.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

// Update persists state changes and the current body of a review.
func (r *ReviewRepository) Update(ctx context.Context, review *domain.PostReview) error {
	body, err := domain.EncodeReviewBody(review)
	if err != nil {
		return err
	}

	query := `
		UPDATE post_reviews
		SET state = $2, body = $3, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, review.ID, review.State, body)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a review by ID.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*domain.PostReview, error) {
	query := `SELECT ` + reviewSelectList + `
		FROM post_reviews
		WHERE id = $1`

	review, err := scanReview(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get review by id: %w", err)
	}
	return review, nil
}

// GetActiveByItem returns the open review gating an item, if any.
// At most one review per item can be active at a time.
func (r *ReviewRepository) GetActiveByItem(ctx context.Context, siteID, itemID int64) (*domain.PostReview, error) {
	query := `SELECT ` + reviewSelectList + `
		FROM post_reviews
		WHERE site_id = $1 AND item_id = $2
		  AND state IN ('new', 'in_review')
		ORDER BY created_at DESC
		LIMIT 1`

	review, err := scanReview(r.db.QueryRowContext(ctx, query, siteID, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active review: %w", err)
	}
	return review, nil
}

// ListByState returns reviews in a given state, newest first.
func (r *ReviewRepository) ListByState(ctx context.Context, state domain.ReviewState, limit int) ([]domain.PostReview, error) {
	query := `SELECT ` + reviewSelectList + `
		FROM post_reviews
		WHERE state = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]domain.PostReview, 0, initialQueueCapacity)
	for rows.Next() {
		review, scanErr := scanReview(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan review: %w", scanErr)
		}
		reviews = append(reviews, *review)
	}
	return reviews, rows.Err()
}

func scanReview(row rowScanner) (*domain.PostReview, error) {
	var review domain.PostReview
	var body []byte

	err := row.Scan(
		&review.ID, &review.SiteID, &review.ItemID, &review.EditorID,
		&review.State, &body, &review.CreatedAt, &review.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := domain.DecodeReviewBody(&review, body); err != nil {
		return nil, err
	}
	return &review, nil
}
