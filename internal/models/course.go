package models

import "github.com/shopspring/decimal"

// Course is the read-only view of a catalog entry needed to price an enrollment.
type Course struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Active   bool            `json:"active"`
}

// Discount is a coupon resolved against a course. Exactly one of Percent or Flat is set.
type Discount struct {
	Code    string          `json:"code"`
	Percent decimal.Decimal `json:"percent"`
	Flat    decimal.Decimal `json:"flat"`
	Active  bool            `json:"active"`
}

// Apply returns the discounted price, never below zero.
func (d Discount) Apply(price decimal.Decimal) decimal.Decimal {
	out := price
	if d.Percent.IsPositive() {
		out = out.Sub(out.Mul(d.Percent).Div(decimal.NewFromInt(100)))
	}
	if d.Flat.IsPositive() {
		out = out.Sub(d.Flat)
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return out.Round(2)
}

// TwoFactorSecret is an admin's TOTP enrollment with bcrypt-hashed recovery codes.
type TwoFactorSecret struct {
	AdminID       string   `json:"admin_id"`
	Secret        string   `json:"secret"`
	RecoveryCodes []string `json:"recovery_codes"`
}
