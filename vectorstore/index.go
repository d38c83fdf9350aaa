package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github/itish2003/pdfrag/models"
)

// generationPrefix marks generations created by an Index.
const generationPrefix = "index-"

// Index is the vector index used by ingestion and retrieval. The active
// generation is only replaced under the live lock, and readers hold the read
// side for the whole search, so a query sees one generation from start to end.
type Index struct {
	backend     Backend
	embedder    Embedder
	active      *activeFile
	concurrency int
	log         logrus.FieldLogger

	// writeMu serialises Upsert, Replace and Reset.
	writeMu sync.Mutex
	live    liveGeneration
}

type liveGeneration struct {
	mu     sync.RWMutex
	loaded bool
	gen    Generation
}

// NewIndex wires an index over backend. persistDir holds the ACTIVE pointer.
// Nothing is opened until first use.
func NewIndex(backend Backend, embedder Embedder, persistDir string, concurrency int, log logrus.FieldLogger) (*Index, error) {
	active, err := newActiveFile(persistDir)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Index{
		backend:     backend,
		embedder:    embedder,
		active:      active,
		concurrency: concurrency,
		log:         log.WithField("component", "vectorstore"),
	}, nil
}

// load opens the persisted active generation on first use. A missing pointer
// leaves the index empty.
func (ix *Index) load(ctx context.Context) error {
	ix.live.mu.RLock()
	loaded := ix.live.loaded
	ix.live.mu.RUnlock()
	if loaded {
		return nil
	}

	ix.live.mu.Lock()
	defer ix.live.mu.Unlock()
	if ix.live.loaded {
		return nil
	}

	name, err := ix.active.Read()
	if err != nil {
		return err
	}
	if name != "" {
		gen, err := ix.backend.Open(ctx, name)
		if err != nil {
			return fmt.Errorf("opening active generation: %w", err)
		}
		ix.log.Infof("VECTORSTORE: opened generation %s", name)
		ix.live.gen = gen
	}
	ix.dropOrphans(ctx, name)
	ix.live.loaded = true
	return nil
}

// dropOrphans removes generations left behind by an interrupted rebuild.
func (ix *Index) dropOrphans(ctx context.Context, active string) {
	names, err := ix.backend.List(ctx)
	if err != nil {
		ix.log.Warnf("VECTORSTORE WARN: could not list generations: %v", err)
		return
	}
	for _, name := range names {
		if name == active || !strings.HasPrefix(name, generationPrefix) {
			continue
		}
		ix.log.Infof("VECTORSTORE: dropping orphan generation %s", name)
		ix.dropQuietly(ctx, name)
	}
}

func (ix *Index) current() Generation {
	ix.live.mu.RLock()
	defer ix.live.mu.RUnlock()
	return ix.live.gen
}

// Query embeds text and returns the k best matches, best first. An index that
// was never built answers with no matches.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]Match, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", models.ErrValidation, k)
	}
	if err := ix.load(ctx); err != nil {
		return nil, err
	}
	if ix.current() == nil {
		return nil, nil
	}

	vector, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query text: %w", err)
	}

	ix.live.mu.RLock()
	defer ix.live.mu.RUnlock()
	if ix.live.gen == nil {
		return nil, nil
	}
	return ix.live.gen.Search(ctx, vector, k)
}

// Upsert embeds and writes chunks into the active generation, replacing
// entries with the same id. With no active generation it creates one.
func (ix *Index) Upsert(ctx context.Context, chunks []models.Chunk) (string, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	if err := ix.load(ctx); err != nil {
		return "", err
	}
	entries, err := ix.embedAll(ctx, chunks)
	if err != nil {
		return "", err
	}

	gen := ix.current()
	if gen == nil {
		return ix.replaceLocked(ctx, entries)
	}
	if err := gen.Upsert(ctx, entries); err != nil {
		return "", fmt.Errorf("upserting into %s: %w", gen.Name(), err)
	}
	ix.log.Infof("VECTORSTORE: upserted %d entries into %s", len(entries), gen.Name())
	return gen.Name(), nil
}

// Replace builds a new generation holding exactly chunks and swaps it in.
// On any error the previous generation stays active and untouched.
func (ix *Index) Replace(ctx context.Context, chunks []models.Chunk) (string, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	if err := ix.load(ctx); err != nil {
		return "", err
	}
	entries, err := ix.embedAll(ctx, chunks)
	if err != nil {
		return "", err
	}
	return ix.replaceLocked(ctx, entries)
}

// Reset swaps in an empty generation.
func (ix *Index) Reset(ctx context.Context) error {
	_, err := ix.Replace(ctx, nil)
	return err
}

func (ix *Index) replaceLocked(ctx context.Context, entries []Entry) (string, error) {
	name := generationPrefix + uuid.NewString()
	staging, err := ix.backend.Create(ctx, name)
	if err != nil {
		return "", fmt.Errorf("creating staging generation: %w", err)
	}
	if err := staging.Upsert(ctx, entries); err != nil {
		ix.dropQuietly(ctx, name)
		return "", fmt.Errorf("filling staging generation: %w", err)
	}
	if err := ix.active.Write(name); err != nil {
		ix.dropQuietly(ctx, name)
		return "", err
	}

	ix.live.mu.Lock()
	old := ix.live.gen
	ix.live.gen = staging
	ix.live.loaded = true
	ix.live.mu.Unlock()

	ix.log.Infof("VECTORSTORE: activated generation %s with %d entries", name, len(entries))
	if old != nil {
		ix.dropQuietly(ctx, old.Name())
	}
	return name, nil
}

func (ix *Index) dropQuietly(ctx context.Context, name string) {
	if err := ix.backend.Drop(context.WithoutCancel(ctx), name); err != nil {
		ix.log.Warnf("VECTORSTORE WARN: could not drop generation %s: %v", name, err)
	}
}

// embedAll embeds chunk texts concurrently, keeping input order.
func (ix *Index) embedAll(ctx context.Context, chunks []models.Chunk) ([]Entry, error) {
	entries := make([]Entry, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			vector, err := ix.embedder.Embed(gctx, c.Text)
			if err != nil {
				return fmt.Errorf("could not embed chunk %d of %s: %w", c.SequenceIndex, c.SourcePath, err)
			}
			entries[i] = EntryFromChunk(c, vector)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Stats reports the active generation and its size.
func (ix *Index) Stats(ctx context.Context) (models.IndexStats, error) {
	if err := ix.load(ctx); err != nil {
		return models.IndexStats{}, err
	}
	ix.live.mu.RLock()
	defer ix.live.mu.RUnlock()
	if ix.live.gen == nil {
		return models.IndexStats{}, nil
	}
	n, err := ix.live.gen.Count(ctx)
	if err != nil {
		return models.IndexStats{}, err
	}
	return models.IndexStats{Generation: ix.live.gen.Name(), Chunks: n}, nil
}

// Chunks lists every stored chunk in insertion order.
func (ix *Index) Chunks(ctx context.Context) ([]models.Chunk, error) {
	if err := ix.load(ctx); err != nil {
		return nil, err
	}
	ix.live.mu.RLock()
	defer ix.live.mu.RUnlock()
	if ix.live.gen == nil {
		return []models.Chunk{}, nil
	}
	entries, err := ix.live.gen.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Chunk, len(entries))
	for i, e := range entries {
		out[i] = e.Chunk()
	}
	return out, nil
}

// Close releases the backend.
func (ix *Index) Close() error {
	return ix.backend.Close()
}
