package favorites

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider is the subset of a search result kept when a user saves it.
type Provider struct {
	ID          string   `json:"id" db:"id"`
	Name        string   `json:"name" db:"name"`
	Trade       *string  `json:"trade,omitempty" db:"trade"`
	Phone       *string  `json:"phone,omitempty" db:"phone"`
	Website     *string  `json:"website,omitempty" db:"website"`
	Address     *string  `json:"address,omitempty" db:"address"`
	City        *string  `json:"city,omitempty" db:"city"`
	Lat         *float64 `json:"lat,omitempty" db:"lat"`
	Lng         *float64 `json:"lng,omitempty" db:"lng"`
	Rating      *float64 `json:"rating,omitempty" db:"rating"`
	ReviewCount *int     `json:"review_count,omitempty" db:"review_count"`
	Source      string   `json:"source,omitempty" db:"source"`
	SourceID    *string  `json:"source_id,omitempty" db:"source_id"`
}

type Favorite struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"-" db:"user_id"`
	ProviderID string    `json:"provider_id" db:"provider_id"`
	Snapshot   Snapshot  `json:"provider" db:"snapshot_json"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Snapshot is the provider JSON as the user saw it when saving.
type Snapshot json.RawMessage

func (s *Snapshot) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		*s = append((*s)[:0], v...)
	case string:
		*s = Snapshot(v)
	case nil:
		*s = nil
	default:
		return fmt.Errorf("scan snapshot: unsupported type %T", src)
	}
	return nil
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(s).MarshalJSON()
}
