package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader   = "X-Gateway-Signature"
	TimestampHeader   = "X-Gateway-Timestamp"
	EventIDHeader     = "X-Gateway-Event-Id"
	IdempotencyHeader = "Idempotency-Key"

	// query parameters of the redirect callback
	SignatureParam = "signature"
	TimestampParam = "timestamp"
)

var (
	ErrBadSignature = errors.New("gateway: bad signature")
	ErrStale        = errors.New("gateway: signature outside replay window")
)

// Sign returns hex(HMAC-SHA256(secret, timestamp + "." + payload)).
func Sign(secret, timestamp string, payload []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(timestamp))
	m.Write([]byte{'.'})
	m.Write(payload)
	return hex.EncodeToString(m.Sum(nil))
}

// Verifier checks gateway signatures with the current merchant secret.
type Verifier struct {
	creds     CredentialSource
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(creds CredentialSource, tolerance time.Duration) *Verifier {
	return &Verifier{creds: creds, tolerance: tolerance, now: time.Now}
}

// Verify checks signature and freshness. timestamp is unix seconds.
func (v *Verifier) Verify(signature, timestamp string, payload []byte) error {
	if signature == "" || timestamp == "" {
		return ErrBadSignature
	}
	secret := v.creds().APISecret
	if secret == "" {
		return ErrBadSignature
	}
	want := Sign(secret, timestamp, payload)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	wantRaw, _ := hex.DecodeString(want)
	if !hmac.Equal(got, wantRaw) {
		return ErrBadSignature
	}
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if v.tolerance > 0 {
		d := v.now().Sub(time.Unix(sec, 0))
		if d < 0 {
			d = -d
		}
		if d > v.tolerance {
			return ErrStale
		}
	}
	return nil
}

// CanonicalQuery is the signed form of a callback query: keys sorted,
// the signature parameter left out.
func CanonicalQuery(q url.Values) []byte {
	keys := make([]string, 0, len(q))
	for k := range q {
		if k == SignatureParam {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for j, v := range vals {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return []byte(b.String())
}
