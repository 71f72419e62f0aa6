// internal/membership/domain.go
package membership

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"issuedesk/internal/access"
)

var (
	ErrBorrowerNotFound   = errors.New("borrower not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

// Borrower is a registered person who may hold issue records.
type Borrower struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	Name       string      `json:"name" db:"name"`
	Email      string      `json:"email" db:"email"`
	Role       access.Role `json:"role" db:"role"`
	Phone      string      `json:"phone,omitempty" db:"phone"`
	RollNumber string      `json:"roll_number,omitempty" db:"roll_number"`
	Department string      `json:"department,omitempty" db:"department"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// HasPhone reports whether a reminder can be addressed to the borrower.
func (b *Borrower) HasPhone() bool { return b.Phone != "" }

// Credential holds a borrower's hashed password.
type Credential struct {
	BorrowerID   uuid.UUID `db:"borrower_id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}
