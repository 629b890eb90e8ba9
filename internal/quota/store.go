// Package quota caps billable classification calls per UTC day.
package quota

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/vegan-scanner/internal/classify"
)

const bucketName = "classifications"

// ErrExhausted is returned once the daily budget is used up
var ErrExhausted = errors.New("daily classification budget exhausted")

// Store keeps per-day classification counters in BoltDB. It holds no scan data.
type Store struct {
	db    *bbolt.DB
	limit int
}

// Open opens (or creates) the counter database. A limit of 0 disables the budget.
func Open(path string, limit int) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &Store{db: db, limit: limit}, nil
}

func dayKey(now time.Time) []byte {
	return []byte(now.UTC().Format("2006-01-02"))
}

func decodeCount(v []byte) uint64 {
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// Reserve counts one classification call for the day of now, failing with
// ErrExhausted when the budget is already used up
func (s *Store) Reserve(now time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		key := dayKey(now)
		count := decodeCount(bucket.Get(key))
		if s.limit > 0 && count >= uint64(s.limit) {
			return ErrExhausted
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, count+1)
		return bucket.Put(key, buf)
	})
}

// Used returns the number of calls reserved on the day of now
func (s *Store) Used(now time.Time) (int, error) {
	var count uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = decodeCount(tx.Bucket([]byte(bucketName)).Get(dayKey(now)))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Prune removes counters older than keep days
func (s *Store) Prune(now time.Time, keep int) error {
	cutoff := dayKey(now.AddDate(0, 0, -keep))
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		var stale [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil && string(k) < string(cutoff); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Limit returns the daily budget; 0 means unlimited
func (s *Store) Limit() int {
	return s.limit
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Guard wraps a Classifier so every call first reserves budget
type Guard struct {
	next  classify.Classifier
	store *Store
	now   func() time.Time
}

// NewGuard creates a Guard
func NewGuard(next classify.Classifier, store *Store) *Guard {
	return &Guard{next: next, store: store, now: time.Now}
}

// Classify reserves budget and delegates. An exhausted budget is a transport
// failure: the service was never reached.
func (g *Guard) Classify(ctx context.Context, text string) (classify.Verdict, error) {
	if err := g.store.Reserve(g.now()); err != nil {
		if errors.Is(err, ErrExhausted) {
			return classify.Verdict{}, fmt.Errorf("%w: %w: %w", classify.ErrTransport, classify.ErrRateLimited, err)
		}
		return classify.Verdict{}, fmt.Errorf("%w: reserving budget: %w", classify.ErrTransport, err)
	}
	return g.next.Classify(ctx, text)
}
