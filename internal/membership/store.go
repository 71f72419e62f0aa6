// internal/membership/store.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const Schema = `
CREATE TABLE IF NOT EXISTS borrowers (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT 'member',
	phone TEXT,
	roll_number TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS credentials (
	borrower_id UUID PRIMARY KEY REFERENCES borrowers (id) ON DELETE CASCADE,
	password_hash TEXT NOT NULL,
	salt TEXT NOT NULL
);
`

const borrowerColumns = `id, name, email, role, COALESCE(phone, '') AS phone, roll_number, department, created_at`

// PostgresStore keeps borrowers and their credentials.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create borrowers schema: %w", err)
	}
	return nil
}

// Register stores a new borrower together with a hashed password.
func (s *PostgresStore) Register(ctx context.Context, b *Borrower, password string) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))
	hash, salt, err := newCredential(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO borrowers (id, name, email, role, phone, roll_number, department)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, b.ID, b.Name, b.Email, string(b.Role), b.Phone, b.RollNumber, b.Department)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrEmailTaken, b.Email)
		}
		return fmt.Errorf("failed to insert borrower: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (borrower_id, password_hash, salt)
		VALUES ($1, $2, $3)
	`, b.ID, hash, salt)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) GetBorrower(ctx context.Context, id uuid.UUID) (*Borrower, error) {
	b := &Borrower{}
	err := s.db.GetContext(ctx, b, `SELECT `+borrowerColumns+` FROM borrowers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrBorrowerNotFound, id)
		}
		return nil, fmt.Errorf("failed to get borrower: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) BorrowerExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM borrowers WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check borrower: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) DeleteBorrower(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM borrowers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete borrower: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrBorrowerNotFound, id)
	}
	return nil
}

func (s *PostgresStore) CredentialByEmail(ctx context.Context, email string) (*Borrower, *Credential, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	b := &Borrower{}
	if err := s.db.GetContext(ctx, b, `SELECT `+borrowerColumns+` FROM borrowers WHERE email = $1`, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrBorrowerNotFound
		}
		return nil, nil, fmt.Errorf("failed to get borrower: %w", err)
	}

	cred := &Credential{}
	err := s.db.GetContext(ctx, cred, `
		SELECT borrower_id, password_hash, salt
		FROM credentials
		WHERE borrower_id = $1
	`, b.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return b, cred, nil
}
