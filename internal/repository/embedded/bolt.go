// Package embedded is a BoltDB-backed implementation of the repositories.
//
// All data lives in a single file, so a node can run without Postgres for
// local development. Each write is one bolt read-write transaction, which
// bolt serializes, so the version check in Transactions.Update is atomic.
package embedded

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

var (
	bTransactions = []byte("transactions")
	bRefs         = []byte("transaction_refs")
	bReports      = []byte("reports")
	bConfig       = []byte("gateway_config")
	bEvents       = []byte("webhook_events")
	bAudit        = []byte("audit_logs")
	bCourses      = []byte("courses")
	bDiscounts    = []byte("discounts")
	bTwoFactor    = []byte("two_factor")

	configKey = []byte("current")
)

type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database file and ensures every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bTransactions, bRefs, bReports, bConfig, bEvents, bAudit, bCourses, bDiscounts, bTwoFactor} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bTransactions) == nil {
			return repo.ErrNotFound
		}
		return ctx.Err()
	})
}

func (s *Store) Repositories() repo.Repositories {
	return repo.Repositories{
		Transactions:   &transactions{s.db},
		Reports:        &reports{s.db},
		GatewayConfigs: &gatewayConfigs{s.db},
		WebhookEvents:  &webhookEvents{s.db},
		AuditLogs:      &auditLogs{s.db},
		Courses:        &courses{s.db},
		TwoFactor:      &twoFactor{s.db},
		Health:         s,
	}
}

// PutCourse and PutDiscount seed the read-only catalog.
func (s *Store) PutCourse(c models.Course) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx.Bucket(bCourses), c.ID, c) })
}

func (s *Store) PutDiscount(d models.Discount) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx.Bucket(bDiscounts), strings.ToUpper(d.Code), d) })
}

func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func get(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return repo.ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// storedTxn keeps the version, which the API model hides from JSON.
type storedTxn struct {
	models.Transaction
	Version int64 `json:"version"`
}

func loadTxn(b *bolt.Bucket, id string) (models.Transaction, error) {
	var st storedTxn
	if err := get(b, id, &st); err != nil {
		return models.Transaction{}, err
	}
	st.Transaction.Version = st.Version
	return st.Transaction, nil
}

func saveTxn(b *bolt.Bucket, t models.Transaction) error {
	return put(b, t.ID, storedTxn{Transaction: t, Version: t.Version})
}

type transactions struct{ db *bolt.DB }

func (r *transactions) Create(_ context.Context, t models.Transaction) (models.Transaction, error) {
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bTransactions)
		if b.Get([]byte(t.ID)) != nil {
			return repo.ErrDuplicate
		}
		now := time.Now().UTC()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = t.CreatedAt
		t.Version = 1
		if t.GatewayReference != "" {
			if err := tx.Bucket(bRefs).Put([]byte(t.GatewayReference), []byte(t.ID)); err != nil {
				return err
			}
		}
		return saveTxn(b, t)
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return t, nil
}

func (r *transactions) GetByID(_ context.Context, id string) (models.Transaction, error) {
	var t models.Transaction
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		t, err = loadTxn(tx.Bucket(bTransactions), id)
		return err
	})
	return t, err
}

func (r *transactions) GetByReference(_ context.Context, ref string) (models.Transaction, error) {
	var t models.Transaction
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bRefs).Get([]byte(ref))
		if id == nil {
			return repo.ErrNotFound
		}
		var err error
		t, err = loadTxn(tx.Bucket(bTransactions), string(id))
		return err
	})
	return t, err
}

func (r *transactions) all(filter func(models.Transaction) bool) ([]models.Transaction, error) {
	out := []models.Transaction{}
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bTransactions).ForEach(func(k, v []byte) error {
			var st storedTxn
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			st.Transaction.Version = st.Version
			if filter(st.Transaction) {
				out = append(out, st.Transaction)
			}
			return nil
		})
	})
	return out, err
}

func (r *transactions) ListByUser(_ context.Context, userID string, status *models.TransactionStatus, limit, offset int) ([]models.Transaction, int, error) {
	rows, err := r.all(func(t models.Transaction) bool {
		return t.UserID == userID && (status == nil || t.Status == *status)
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	total := len(rows)
	if offset >= total {
		return []models.Transaction{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return rows[offset:end], total, nil
}

func (r *transactions) ListCreatedBetween(_ context.Context, start, end time.Time) ([]models.Transaction, error) {
	rows, err := r.all(func(t models.Transaction) bool {
		return !t.CreatedAt.Before(start) && !t.CreatedAt.After(end)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	return rows, nil
}

func (r *transactions) Update(_ context.Context, t models.Transaction) (models.Transaction, error) {
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bTransactions)
		cur, err := loadTxn(b, t.ID)
		if err != nil {
			return err
		}
		if cur.Version != t.Version {
			return repo.ErrVersionConflict
		}
		// immutable fields always come from the stored row
		t.CourseID, t.UserID, t.Amount, t.Currency = cur.CourseID, cur.UserID, cur.Amount, cur.Currency
		t.PaymentMethod, t.DiscountCode, t.CreatedAt = cur.PaymentMethod, cur.DiscountCode, cur.CreatedAt
		t.Version = cur.Version + 1
		t.UpdatedAt = time.Now().UTC()
		if t.GatewayReference != "" && t.GatewayReference != cur.GatewayReference {
			if err := tx.Bucket(bRefs).Put([]byte(t.GatewayReference), []byte(t.ID)); err != nil {
				return err
			}
		}
		return saveTxn(b, t)
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return t, nil
}

type reports struct{ db *bolt.DB }

func (r *reports) Create(_ context.Context, rep models.ReconciliationReport) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bReports)
		if b.Get([]byte(rep.ID)) != nil {
			return repo.ErrDuplicate
		}
		if rep.Discrepancies == nil {
			rep.Discrepancies = []models.Discrepancy{}
		}
		return put(b, rep.ID, rep)
	})
}

func (r *reports) Get(_ context.Context, id string) (models.ReconciliationReport, error) {
	var rep models.ReconciliationReport
	err := r.db.View(func(tx *bolt.Tx) error { return get(tx.Bucket(bReports), id, &rep) })
	return rep, err
}

func (r *reports) Save(_ context.Context, rep models.ReconciliationReport) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bReports)
		var cur models.ReconciliationReport
		if err := get(b, rep.ID, &cur); err != nil {
			return err
		}
		resolved := map[string]models.Discrepancy{}
		for _, d := range cur.Discrepancies {
			if d.Resolved {
				resolved[d.TransactionID] = d
			}
		}
		merged := make([]models.Discrepancy, 0, len(rep.Discrepancies))
		for _, d := range rep.Discrepancies {
			if old, ok := resolved[d.TransactionID]; ok {
				d = old
			}
			merged = append(merged, d)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].TransactionID < merged[j].TransactionID })
		cur.Discrepancies = merged
		cur.RunStatus, cur.FailureReason, cur.Summary, cur.GeneratedAt = rep.RunStatus, rep.FailureReason, rep.Summary, rep.GeneratedAt
		return put(b, cur.ID, cur)
	})
}

func (r *reports) List(_ context.Context, limit int) ([]models.ReconciliationReport, error) {
	out := []models.ReconciliationReport{}
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bReports).ForEach(func(k, v []byte) error {
			var rep models.ReconciliationReport
			if err := json.Unmarshal(v, &rep); err != nil {
				return err
			}
			rep.Discrepancies = nil
			out = append(out, rep)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *reports) Resolve(_ context.Context, reportID, transactionID, notes, by string, at time.Time) (models.Discrepancy, error) {
	var out models.Discrepancy
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bReports)
		var rep models.ReconciliationReport
		if err := get(b, reportID, &rep); err != nil {
			return err
		}
		for i := range rep.Discrepancies {
			d := &rep.Discrepancies[i]
			if d.TransactionID != transactionID {
				continue
			}
			if d.Resolved {
				return repo.ErrAlreadyResolved
			}
			d.Resolved, d.Notes, d.ResolvedAt, d.ResolvedBy = true, &notes, &at, &by
			out = *d
			return put(b, rep.ID, rep)
		}
		return repo.ErrNotFound
	})
	return out, err
}

type gatewayConfigs struct{ db *bolt.DB }

func (r *gatewayConfigs) Get(_ context.Context) (models.GatewayConfig, error) {
	var c models.GatewayConfig
	err := r.db.View(func(tx *bolt.Tx) error { return get(tx.Bucket(bConfig), string(configKey), &c) })
	return c, err
}

func (r *gatewayConfigs) Save(_ context.Context, c models.GatewayConfig) error {
	return r.db.Update(func(tx *bolt.Tx) error { return put(tx.Bucket(bConfig), string(configKey), c) })
}

type webhookEvents struct{ db *bolt.DB }

func (r *webhookEvents) Exists(_ context.Context, eventID string) (bool, error) {
	var ok bool
	err := r.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bEvents).Get([]byte(eventID)) != nil
		return nil
	})
	return ok, err
}

func (r *webhookEvents) Record(_ context.Context, e models.WebhookEvent) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bEvents)
		if b.Get([]byte(e.EventID)) != nil {
			return repo.ErrDuplicate
		}
		return put(b, e.EventID, e)
	})
}

func (r *webhookEvents) Flagged(_ context.Context, start, end time.Time) ([]models.WebhookEvent, error) {
	out := []models.WebhookEvent{}
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bEvents).ForEach(func(k, v []byte) error {
			var e models.WebhookEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if (e.AmountMismatch || e.StatusConflict) && !e.ReceivedAt.Before(start) && !e.ReceivedAt.After(end) {
				out = append(out, e)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, err
}

type auditLogs struct{ db *bolt.DB }

// audit keys sort by entity then time: type/id/unixnano/uuid
func auditPrefix(entityType, entityID string) []byte {
	return []byte(entityType + "/" + entityID + "/")
}

func (r *auditLogs) Create(_ context.Context, l models.AuditLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	entityID := ""
	if l.EntityID != nil {
		entityID = *l.EntityID
	}
	key := string(auditPrefix(l.EntityType, entityID)) + l.CreatedAt.UTC().Format("20060102150405.000000000") + "/" + l.ID
	return r.db.Update(func(tx *bolt.Tx) error { return put(tx.Bucket(bAudit), key, l) })
}

func (r *auditLogs) ListByEntity(_ context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	out := []models.AuditLog{}
	prefix := auditPrefix(entityType, entityID)
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bAudit).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var l models.AuditLog
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			out = append(out, l)
		}
		return nil
	})
	return out, err
}

type courses struct{ db *bolt.DB }

func (r *courses) Get(_ context.Context, id string) (models.Course, error) {
	var c models.Course
	err := r.db.View(func(tx *bolt.Tx) error { return get(tx.Bucket(bCourses), id, &c) })
	return c, err
}

func (r *courses) Discount(_ context.Context, code string) (models.Discount, error) {
	var d models.Discount
	err := r.db.View(func(tx *bolt.Tx) error { return get(tx.Bucket(bDiscounts), strings.ToUpper(code), &d) })
	return d, err
}

type twoFactor struct{ db *bolt.DB }

func (r *twoFactor) Get(_ context.Context, adminID string) (models.TwoFactorSecret, error) {
	var s models.TwoFactorSecret
	err := r.db.View(func(tx *bolt.Tx) error { return get(tx.Bucket(bTwoFactor), adminID, &s) })
	return s, err
}

func (r *twoFactor) Save(_ context.Context, s models.TwoFactorSecret) error {
	return r.db.Update(func(tx *bolt.Tx) error { return put(tx.Bucket(bTwoFactor), s.AdminID, s) })
}
