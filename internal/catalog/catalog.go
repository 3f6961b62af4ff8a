// Package catalog prices an enrollment from the read-only course and coupon tables.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

type Quote struct {
	Course       models.Course
	Amount       decimal.Decimal
	DiscountCode *string
}

type Service struct {
	courses repo.Courses
}

func New(courses repo.Courses) *Service { return &Service{courses: courses} }

// Quote resolves course price after an optional discount. Unknown or inactive
// courses and coupons are validation failures on the respective field.
func (s *Service) Quote(ctx context.Context, courseID string, discountCode *string) (Quote, error) {
	c, err := s.courses.Get(ctx, courseID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !c.Active) {
		return Quote{}, apperr.Validation(apperr.FieldError{Field: "courseId", Message: "unknown or inactive course"})
	}
	if err != nil {
		return Quote{}, fmt.Errorf("load course: %w", err)
	}

	q := Quote{Course: c, Amount: c.Price.Round(2)}
	if discountCode == nil {
		return q, nil
	}
	d, err := s.courses.Discount(ctx, *discountCode)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !d.Active) {
		return Quote{}, apperr.Validation(apperr.FieldError{Field: "discountCode", Message: "unknown or expired discount code"})
	}
	if err != nil {
		return Quote{}, fmt.Errorf("load discount: %w", err)
	}
	q.Amount = d.Apply(c.Price)
	q.DiscountCode = &d.Code
	return q, nil
}
