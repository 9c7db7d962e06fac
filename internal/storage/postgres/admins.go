package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/admin"
)

func (s *PostgresStorage) CreateAdmin(ctx context.Context, a *admin.Admin) error {
	q := `INSERT INTO admins (email,password_hash,created_at) VALUES($1,$2,$3) RETURNING id`
	return s.db.QueryRowContext(ctx, q, a.Email, a.PasswordHash, a.CreatedAt).Scan(&a.ID)
}

func (s *PostgresStorage) FindAdminByEmail(ctx context.Context, email string) (*admin.Admin, error) {
	a := &admin.Admin{}
	q := `SELECT id,email,password_hash,created_at FROM admins WHERE email=$1`
	if err := s.db.QueryRowContext(ctx, q, email).
		Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}
