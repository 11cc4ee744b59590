package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, email, full_name, company_name, plan, status, external_user_id, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName, &u.CompanyName,
		&u.Plan, &u.Status, &u.ExternalUserID, &u.CreatedAt, &u.LastLoginAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) CreateTx(ctx context.Context, tx *sql.Tx, u *model.User) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, company_name, plan, status, external_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.FullName, u.CompanyName, u.Plan, u.Status, u.ExternalUserID)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *UserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_user_id = $1`, externalID))
}

func (r *UserRepo) UpdatePlanStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, plan model.Plan, status model.UserStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET plan = $2, status = $3 WHERE id = $1
	`, id, plan, status)
	if err != nil {
		return fmt.Errorf("update user plan/status: %w", err)
	}
	return nil
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
