// Package store keeps trial results in a badger database so sweeps can be
// inspected and plotted later.
package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/shreekarashastry/fruitsim/simulation"
)

var ErrNotFound = errors.New("trial not found")

// Record is what is stored for one trial.
type Record struct {
	Sweep  string
	Label  string
	Config simulation.Config
	Result simulation.TrialResult
}

type Store struct {
	db *badger.DB
}

// Open opens the database at path. An empty path keeps everything in memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func trialKey(sweep, label string, trial int) []byte {
	return []byte(fmt.Sprintf("trial/%s/%s/%06d", sweep, label, trial))
}

func sweepPrefix(sweep string) []byte {
	return []byte(fmt.Sprintf("trial/%s/", sweep))
}

func encode(rec *Record) ([]byte, error) {
	buf := bytes.Buffer{}
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (Record, error) {
	var rec Record
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec)
	return rec, err
}

// Put stores every result of one run under sweep/label.
func (s *Store) Put(sweep, label string, cfg simulation.Config, results []simulation.TrialResult) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, res := range results {
			data, err := encode(&Record{Sweep: sweep, Label: label, Config: cfg, Result: res})
			if err != nil {
				return err
			}
			if err := txn.Set(trialKey(sweep, label, res.Trial), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Get(sweep, label string, trial int) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(trialKey(sweep, label, trial))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s/%s/%d", ErrNotFound, sweep, label, trial)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decode(val)
			return err
		})
	})
	return rec, err
}

// List returns every record of a sweep in key order.
func (s *Store) List(sweep string) ([]Record, error) {
	var records []Record
	prefix := sweepPrefix(sweep)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decode(val)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}

// Labels groups the records of a sweep by label, keeping key order.
func Labels(records []Record) map[string][]simulation.TrialResult {
	byLabel := make(map[string][]simulation.TrialResult)
	for _, rec := range records {
		byLabel[rec.Label] = append(byLabel[rec.Label], rec.Result)
	}
	return byLabel
}
