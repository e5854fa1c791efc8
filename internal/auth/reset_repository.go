package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/iot-console-core/internal/infrastructure/database"
)

// ResetRepository persists password reset tokens.
type ResetRepository interface {
	Create(ctx context.Context, token *ResetToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	DeleteForUser(ctx context.Context, userID string) error
}

// SQLiteResetRepository implements ResetRepository using SQLite.
type SQLiteResetRepository struct {
	db *sql.DB
}

// NewResetRepository creates a new SQLite-backed reset token repository.
func NewResetRepository(db *sql.DB) *SQLiteResetRepository {
	return &SQLiteResetRepository{db: db}
}

// Create inserts a reset token. The ID is generated if empty.
func (r *SQLiteResetRepository) Create(ctx context.Context, token *ResetToken) error {
	if token.ID == "" {
		token.ID = "prt-" + uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		token.ID, token.UserID, token.TokenHash,
		database.FormatTime(token.ExpiresAt), database.FormatTime(token.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating reset token: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a reset token by its SHA-256 hash.
func (r *SQLiteResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error) {
	var t ResetToken
	var usedAt sql.NullString
	var expiresAt, createdAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, used_at, created_at
		 FROM password_reset_tokens WHERE token_hash = ?`, tokenHash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &expiresAt, &usedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("getting reset token: %w", err)
	}

	if t.ExpiresAt, err = database.ParseTime(expiresAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		used, err := database.ParseTime(usedAt.String)
		if err != nil {
			return nil, err
		}
		t.UsedAt = &used
	}
	return &t, nil
}

// MarkUsed consumes the token. A token that was already used returns
// ErrTokenRevoked, so two concurrent updates cannot both succeed.
func (r *SQLiteResetRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		database.FormatTime(at), id)
	if err != nil {
		return fmt.Errorf("consuming reset token: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrTokenRevoked
	}
	return nil
}

// DeleteForUser removes the user's unused reset tokens. A new request
// supersedes older ones.
func (r *SQLiteResetRepository) DeleteForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE user_id = ? AND used_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("deleting reset tokens: %w", err)
	}
	return nil
}
