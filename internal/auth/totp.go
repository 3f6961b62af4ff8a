package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

var (
	ErrNotEnrolled = errors.New("two-factor not enrolled")
	ErrBadCode     = errors.New("invalid two-factor code")
)

const recoveryCodeCount = 8

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TwoFactor checks admin TOTP codes. Recovery codes are single use.
type TwoFactor struct {
	store  repo.TwoFactor
	issuer string
	now    func() time.Time
}

func NewTwoFactor(store repo.TwoFactor, issuer string) *TwoFactor {
	return &TwoFactor{store: store, issuer: issuer, now: time.Now}
}

type Enrollment struct {
	URL           string   `json:"otpauthUrl"`
	Secret        string   `json:"secret"`
	RecoveryCodes []string `json:"recoveryCodes"`
}

// Enroll replaces any previous secret. Plain recovery codes are returned once.
func (t *TwoFactor) Enroll(ctx context.Context, adminID string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: t.issuer, AccountName: adminID})
	if err != nil {
		return Enrollment{}, err
	}
	plain := make([]string, 0, recoveryCodeCount)
	hashed := make([]string, 0, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		code, err := randomDigits(6)
		if err != nil {
			return Enrollment{}, err
		}
		h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return Enrollment{}, err
		}
		plain = append(plain, code)
		hashed = append(hashed, string(h))
	}
	if err := t.store.Save(ctx, models.TwoFactorSecret{AdminID: adminID, Secret: key.Secret(), RecoveryCodes: hashed}); err != nil {
		return Enrollment{}, fmt.Errorf("save two-factor: %w", err)
	}
	return Enrollment{URL: key.URL(), Secret: key.Secret(), RecoveryCodes: plain}, nil
}

func (t *TwoFactor) Verify(ctx context.Context, adminID, code string) error {
	s, err := t.store.Get(ctx, adminID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotEnrolled
	}
	if err != nil {
		return err
	}
	ok, err := totp.ValidateCustom(code, s.Secret, t.now().UTC(), totpOpts)
	if err == nil && ok {
		return nil
	}
	for i, h := range s.RecoveryCodes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(code)) == nil {
			s.RecoveryCodes = append(s.RecoveryCodes[:i:i], s.RecoveryCodes[i+1:]...)
			if err := t.store.Save(ctx, s); err != nil {
				return fmt.Errorf("consume recovery code: %w", err)
			}
			return nil
		}
	}
	return ErrBadCode
}

func randomDigits(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b[i] = byte('0' + d.Int64())
	}
	return string(b), nil
}
