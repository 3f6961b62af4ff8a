package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

type coursesRepo struct{ pool *pgxpool.Pool }

func (r *coursesRepo) Get(ctx context.Context, id string) (models.Course, error) {
	var c models.Course
	err := r.pool.QueryRow(ctx, `SELECT id, title, price, currency, active FROM courses WHERE id=$1`, id).
		Scan(&c.ID, &c.Title, &c.Price, &c.Currency, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, repo.ErrNotFound
	}
	return c, err
}

func (r *coursesRepo) Discount(ctx context.Context, code string) (models.Discount, error) {
	var d models.Discount
	err := r.pool.QueryRow(ctx, `SELECT code, percent, flat, active FROM discounts WHERE code=$1`, code).
		Scan(&d.Code, &d.Percent, &d.Flat, &d.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, repo.ErrNotFound
	}
	return d, err
}

type twoFactorRepo struct{ pool *pgxpool.Pool }

func (r *twoFactorRepo) Get(ctx context.Context, adminID string) (models.TwoFactorSecret, error) {
	var s models.TwoFactorSecret
	err := r.pool.QueryRow(ctx, `SELECT admin_id, secret, recovery_codes FROM admin_two_factor WHERE admin_id=$1`, adminID).
		Scan(&s.AdminID, &s.Secret, &s.RecoveryCodes)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, repo.ErrNotFound
	}
	return s, err
}

func (r *twoFactorRepo) Save(ctx context.Context, s models.TwoFactorSecret) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO admin_two_factor(admin_id, secret, recovery_codes) VALUES($1,$2,$3)
ON CONFLICT (admin_id) DO UPDATE SET secret=EXCLUDED.secret, recovery_codes=EXCLUDED.recovery_codes`,
		s.AdminID, s.Secret, s.RecoveryCodes)
	return err
}
