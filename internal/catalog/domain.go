// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrItemNotFound = errors.New("item not found")

// Item is one lendable copy in the collection.
type Item struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ISBN          string    `json:"isbn" db:"isbn"`
	Title         string    `json:"title" db:"title"`
	Author        string    `json:"author" db:"author"`
	Category      string    `json:"category,omitempty" db:"category"`
	PublishedYear int       `json:"published_year,omitempty" db:"published_year"`
	Available     bool      `json:"available" db:"available"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
