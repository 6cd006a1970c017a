package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"splittab/internal/models"
	"splittab/internal/storage"
)

// UpsertUser inserts the user or updates its display name.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user models.User) error {
	query := `
		INSERT INTO users (id, display_name)
		VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name
	`

	_, err := s.db.ExecContext(ctx, query, user.ID, user.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, display_name FROM users WHERE id = ?", id,
	).Scan(&user.ID, &user.DisplayName)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns all registered users.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, display_name FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
