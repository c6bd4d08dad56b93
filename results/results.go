// Package results persists raw and processed sampler records in a
// bolt database, keyed by residue, iteration count and record kind.
package results

import (
	"encoding/json"
	"fmt"

	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"

	"github.com/rjoshi44/basicrta/gibbs"
)

// log is the global logging variable.
var log = logging.MustGetLogger("results")

// MAIN is the bucket name for all records.
var MAIN = []byte("results")

const (
	kindRaw       = "raw"
	kindProcessed = "processed"
)

// Store is a handle on the results database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the results database.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("results: opening %s: %v", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func key(residue string, niter int, kind string) []byte {
	return []byte(fmt.Sprintf("%s/%d/%s", residue, niter, kind))
}

// SaveRaw stores the raw-results record for a residue.
func (s *Store) SaveRaw(r *gibbs.Raw) error {
	b, err := json.Marshal(r)
	if err != nil {
		log.Error("Error serializing raw record", err)
		return err
	}
	return s.put(key(r.Residue, r.NIter, kindRaw), b)
}

// LoadRaw retrieves a raw-results record, nil if absent.
func (s *Store) LoadRaw(residue string, niter int) (*gibbs.Raw, error) {
	b, err := s.get(key(residue, niter, kindRaw))
	if err != nil || b == nil {
		return nil, err
	}
	var r gibbs.Raw
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveProcessed stores the processed-results record for a residue.
func (s *Store) SaveProcessed(p *gibbs.Processed) error {
	b, err := json.Marshal(p)
	if err != nil {
		log.Error("Error serializing processed record", err)
		return err
	}
	return s.put(key(p.Residue, p.NIter, kindProcessed), b)
}

// LoadProcessed retrieves a processed-results record, nil if absent.
func (s *Store) LoadProcessed(residue string, niter int) (*gibbs.Processed, error) {
	b, err := s.get(key(residue, niter, kindProcessed))
	if err != nil || b == nil {
		return nil, err
	}
	var p gibbs.Processed
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) put(k, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}
		return b.Put(k, data)
	})
}

func (s *Store) get(k []byte) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}
		if v := b.Get(k); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
