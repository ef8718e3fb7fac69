package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "escalations"

// ErrCaseNotFound is returned when a case id is unknown to the queue.
var ErrCaseNotFound = errors.New("escalation case not found")

// QueuedCase is a case plus its resolution state.
type QueuedCase struct {
	Case
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// BoltQueue is a durable, file-backed staff queue. Recording the same case id twice
// keeps the first write.
type BoltQueue struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltQueue opens (or creates) the queue file at path.
func OpenBoltQueue(path string) (*BoltQueue, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltQueue{db: db, now: time.Now}, nil
}

func (q *BoltQueue) Close() error {
	return q.db.Close()
}

func (q *BoltQueue) Record(_ context.Context, c Case) error {
	if c.ID == "" {
		return errors.New("case id required")
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Get([]byte(c.ID)) != nil {
			return nil
		}
		data, err := json.Marshal(QueuedCase{Case: c})
		if err != nil {
			return err
		}
		return b.Put([]byte(c.ID), data)
	})
}

// List returns queued cases oldest first. Resolved cases are included only when all is set.
func (q *BoltQueue) List(all bool) ([]QueuedCase, error) {
	items := []QueuedCase{}
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var c QueuedCase
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.ResolvedAt != nil && !all {
				return nil
			}
			items = append(items, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].At.Before(items[j].At) })
	return items, nil
}

// Resolve marks a case handled by staffID. Resolving twice keeps the first resolution.
func (q *BoltQueue) Resolve(id, staffID string) (QueuedCase, error) {
	var result QueuedCase
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrCaseNotFound
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return err
		}
		if result.ResolvedAt != nil {
			return nil
		}
		now := q.now().UTC()
		result.ResolvedAt = &now
		result.ResolvedBy = staffID
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return QueuedCase{}, err
	}
	return result, nil
}
