package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

// BoltBackend keeps each generation in its own bbolt file under dir.
type BoltBackend struct {
	dir string

	mu   sync.Mutex
	open map[string]*boltGeneration
}

// NewBoltBackend creates the backend, making dir if needed.
func NewBoltBackend(dir string) (*BoltBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &BoltBackend{dir: dir, open: make(map[string]*boltGeneration)}, nil
}

func (b *BoltBackend) path(name string) string {
	return filepath.Join(b.dir, name+".db")
}

// Create opens a new, empty generation file.
func (b *BoltBackend) Create(_ context.Context, name string) (Generation, error) {
	if _, err := os.Stat(b.path(name)); err == nil {
		return nil, fmt.Errorf("generation %s already exists", name)
	}
	return b.openFile(name)
}

// Open returns an existing generation.
func (b *BoltBackend) Open(_ context.Context, name string) (Generation, error) {
	if _, err := os.Stat(b.path(name)); err != nil {
		return nil, fmt.Errorf("opening generation %s: %w", name, err)
	}
	return b.openFile(name)
}

func (b *BoltBackend) openFile(name string) (*boltGeneration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if g, ok := b.open[name]; ok {
		return g, nil
	}

	db, err := bbolt.Open(b.path(name), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	g := &boltGeneration{name: name, db: db}
	b.open[name] = g
	return g, nil
}

// Drop closes and deletes a generation file. Dropping an unknown name is not
// an error.
func (b *BoltBackend) Drop(_ context.Context, name string) error {
	b.mu.Lock()
	g, ok := b.open[name]
	delete(b.open, name)
	b.mu.Unlock()

	if ok {
		if err := g.db.Close(); err != nil {
			return fmt.Errorf("closing generation %s: %w", name, err)
		}
	}
	if err := os.Remove(b.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing generation %s: %w", name, err)
	}
	return nil
}

// List returns the generation files under dir.
func (b *BoltBackend) List(_ context.Context) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(b.dir, "*.db"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, strings.TrimSuffix(filepath.Base(f), ".db"))
	}
	return names, nil
}

// Close closes every open generation.
func (b *BoltBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, g := range b.open {
		if err := g.db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(b.open, name)
	}
	return errors.Join(errs...)
}

type boltGeneration struct {
	name string
	db   *bbolt.DB
}

func (g *boltGeneration) Name() string { return g.name }

// Upsert writes all entries in one transaction.
func (g *boltGeneration) Upsert(_ context.Context, entries []Entry) error {
	return g.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for _, e := range entries {
			key := []byte(e.ChunkID)
			if prev := b.Get(key); prev != nil {
				var old Entry
				if err := json.Unmarshal(prev, &old); err != nil {
					return fmt.Errorf("decoding entry %s: %w", e.ChunkID, err)
				}
				e.Seq = old.Seq
			} else {
				seq, err := b.NextSequence()
				if err != nil {
					return err
				}
				e.Seq = seq
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encoding entry %s: %w", e.ChunkID, err)
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search scores every entry, brute force.
func (g *boltGeneration) Search(_ context.Context, vector []float32, k int) ([]Match, error) {
	var matches []Match
	err := g.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			matches = append(matches, Match{Entry: e, Score: cosineSimilarity(vector, e.Embedding)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scanning generation %s: %w", g.name, err)
	}
	return rankMatches(matches, k), nil
}

func (g *boltGeneration) Count(_ context.Context) (int, error) {
	var n int
	err := g.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	})
	return n, err
}

// Entries returns all entries in insertion order, without embeddings.
func (g *boltGeneration) Entries(_ context.Context) ([]Entry, error) {
	var out []Entry
	err := g.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			e.Embedding = nil
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
