/*
Package storage keeps a persistent ledger of publish runs so that a run whose
transaction was submitted but never confirmed can be followed up later
without sending a second transaction.

# Storage Organization

The ledger lives in a pebble database with prefixed namespaces:

  - r/  : runID → Record (the latest known state of every run)
  - pd/ : runID → empty (index of runs whose on-chain outcome is unknown)

Records are CBOR encoded with deterministic options.
*/
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vocdoni/davinci-publisher/log"
	"github.com/vocdoni/davinci-publisher/types"
)

var (
	// ErrNotFound is returned when a run is not in the ledger.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by operations on a closed ledger.
	ErrClosed = errors.New("storage closed")

	// Prefixes
	recordPrefix  = []byte("r/")
	pendingPrefix = []byte("pd/")

	recordCacheSize = 256
)

// Record is the persisted view of a publish run.
type Record struct {
	ID        string           `json:"id" cbor:"0,keyasint"`
	Program   common.Hash      `json:"program" cbor:"1,keyasint"`
	Input     types.HexBytes   `json:"input,omitempty" cbor:"2,keyasint,omitempty"`
	Journal   types.HexBytes   `json:"journal,omitempty" cbor:"3,keyasint,omitempty"`
	Seal      types.HexBytes   `json:"seal,omitempty" cbor:"4,keyasint,omitempty"`
	State     string           `json:"state" cbor:"5,keyasint"`
	Kind      string           `json:"kind,omitempty" cbor:"6,keyasint,omitempty"`
	Error     string           `json:"error,omitempty" cbor:"7,keyasint,omitempty"`
	TxHash    common.Hash      `json:"txHash" cbor:"8,keyasint"`
	Outcome   *types.TxOutcome `json:"outcome,omitempty" cbor:"9,keyasint,omitempty"`
	Pending   bool             `json:"pending" cbor:"10,keyasint"`
	CreatedAt int64            `json:"createdAt" cbor:"11,keyasint"`
	UpdatedAt int64            `json:"updatedAt" cbor:"12,keyasint"`
}

// Storage is the run ledger.
type Storage struct {
	mu     sync.Mutex
	db     *pebble.DB
	cache  *lru.Cache[string, *Record]
	closed bool
}

// Open opens, or creates, the ledger stored in dir.
func Open(dir string) (*Storage, error) {
	return open(dir, &pebble.Options{})
}

// OpenInMemory returns a ledger that lives in memory only.
func OpenInMemory() (*Storage, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Storage, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger %q: %w", dir, err)
	}
	cache, err := lru.New[string, *Record](recordCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create record cache: %w", err)
	}
	return &Storage{db: db, cache: cache}, nil
}

// Save stores r, replacing any previous version of the same run, and keeps
// the pending index in sync with r.Pending.
func (s *Storage) Save(r *Record) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("record without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	now := time.Now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.ID, err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key(recordPrefix, r.ID), data, nil); err != nil {
		return err
	}
	if r.Pending {
		err = b.Set(key(pendingPrefix, r.ID), nil, nil)
	} else {
		err = b.Delete(key(pendingPrefix, r.ID), nil)
	}
	if err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit record %s: %w", r.ID, err)
	}
	s.cache.Add(r.ID, cloneRecord(r))
	log.Debugw("run recorded", "run", r.ID, "state", r.State, "pending", r.Pending)
	return nil
}

// Get returns the record of a run.
func (s *Storage) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.getUnsafe(id)
}

func (s *Storage) getUnsafe(id string) (*Record, error) {
	if r, ok := s.cache.Get(id); ok {
		return cloneRecord(r), nil
	}
	data, closer, err := s.db.Get(key(recordPrefix, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	r := &Record{}
	if err := decodeRecord(data, r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	s.cache.Add(id, cloneRecord(r))
	return r, nil
}

// Pending returns the runs whose on-chain outcome is unknown.
func (s *Storage) Pending() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var ids []string
	if err := s.iterate(pendingPrefix, func(k, _ []byte) error {
		ids = append(ids, string(k[len(pendingPrefix):]))
		return nil
	}); err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		r, err := s.getUnsafe(id)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// List returns every recorded run.
func (s *Storage) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var records []*Record
	err := s.iterate(recordPrefix, func(_, v []byte) error {
		r := &Record{}
		if err := decodeRecord(v, r); err != nil {
			return err
		}
		records = append(records, r)
		return nil
	})
	return records, err
}

func (s *Storage) iterate(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close flushes and closes the ledger. Closing twice is a no-op.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func key(prefix []byte, id string) []byte {
	return append(append(make([]byte, 0, len(prefix)+len(id)), prefix...), id...)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func cloneRecord(r *Record) *Record {
	c := *r
	if r.Outcome != nil {
		o := *r.Outcome
		c.Outcome = &o
	}
	return &c
}
