package favorites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("favorite not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Save upserts the provider and records it as a favorite of userID. Saving
// the same provider twice returns the existing favorite with duplicate set.
func (r *Repository) Save(ctx context.Context, userID string, provider Provider, snapshot []byte) (Favorite, bool, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Favorite{}, false, fmt.Errorf("generate favorite id: %w", err)
	}
	if provider.Source == "" {
		provider.Source = "apple"
	}
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Favorite{}, false, fmt.Errorf("begin favorite tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO providers
			(id, name, trade, phone, website, address, city, lat, lng, rating, review_count, source, source_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			trade = COALESCE(EXCLUDED.trade, providers.trade),
			phone = COALESCE(EXCLUDED.phone, providers.phone),
			website = COALESCE(EXCLUDED.website, providers.website),
			address = COALESCE(EXCLUDED.address, providers.address),
			city = COALESCE(EXCLUDED.city, providers.city),
			lat = COALESCE(EXCLUDED.lat, providers.lat),
			lng = COALESCE(EXCLUDED.lng, providers.lng),
			rating = COALESCE(EXCLUDED.rating, providers.rating),
			review_count = COALESCE(EXCLUDED.review_count, providers.review_count),
			source = EXCLUDED.source,
			source_id = COALESCE(EXCLUDED.source_id, providers.source_id),
			updated_at = EXCLUDED.updated_at
	`, provider.ID, provider.Name, provider.Trade, provider.Phone, provider.Website, provider.Address, provider.City,
		provider.Lat, provider.Lng, provider.Rating, provider.ReviewCount, provider.Source, provider.SourceID, now)
	if err != nil {
		return Favorite{}, false, fmt.Errorf("upsert provider: %w", err)
	}

	var favorite Favorite
	err = tx.GetContext(ctx, &favorite, `
		INSERT INTO favorites (id, user_id, provider_id, snapshot_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, provider_id) DO NOTHING
		RETURNING id, user_id, provider_id, snapshot_json, created_at
	`, id.String(), userID, provider.ID, string(snapshot), now)
	duplicate := false
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Favorite{}, false, fmt.Errorf("insert favorite: %w", err)
		}
		duplicate = true
		err = tx.GetContext(ctx, &favorite, `
			SELECT id, user_id, provider_id, snapshot_json, created_at
			FROM favorites
			WHERE user_id = $1 AND provider_id = $2
		`, userID, provider.ID)
		if err != nil {
			return Favorite{}, false, fmt.Errorf("load existing favorite: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Favorite{}, false, fmt.Errorf("commit favorite tx: %w", err)
	}

	return favorite, duplicate, nil
}

func (r *Repository) List(ctx context.Context, userID string) ([]Favorite, error) {
	favorites := []Favorite{}
	err := r.db.SelectContext(ctx, &favorites, `
		SELECT id, user_id, provider_id, snapshot_json, created_at
		FROM favorites
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}

	return favorites, nil
}

// Delete removes a favorite owned by userID. Other users' favorites are
// reported as not found.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM favorites
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete favorite rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
