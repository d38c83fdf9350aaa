package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/sirupsen/logrus"
)

const (
	metaSeq      = "seq"
	minTieWindow = 8
)

// ChromaBackend maps each generation to its own Chroma collection.
// Collections are named prefix + "-" + generation.
type ChromaBackend struct {
	client chromago.Client
	prefix string
	log    logrus.FieldLogger
}

// NewChromaBackend connects to a Chroma server at baseURL.
func NewChromaBackend(baseURL, prefix string, log logrus.FieldLogger) (*ChromaBackend, error) {
	client, err := chromago.NewHTTPClient(chromago.WithBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("creating chroma client: %w", err)
	}
	return &ChromaBackend{client: client, prefix: prefix, log: log.WithField("component", "vectorstore")}, nil
}

func (b *ChromaBackend) collectionName(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + "-" + name
}

// Create makes a new collection configured for cosine distance.
func (b *ChromaBackend) Create(ctx context.Context, name string) (Generation, error) {
	return b.getOrCreate(ctx, name)
}

// Open returns the existing collection for name.
func (b *ChromaBackend) Open(ctx context.Context, name string) (Generation, error) {
	return b.getOrCreate(ctx, name)
}

func (b *ChromaBackend) getOrCreate(ctx context.Context, name string) (Generation, error) {
	b.log.Debugf("VECTORSTORE: getting or creating collection '%s'", b.collectionName(name))
	collection, err := b.client.GetOrCreateCollection(
		ctx,
		b.collectionName(name),
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("description", "PDF chunk index generation"),
				chromago.NewStringAttribute("created_by", "pdfrag"),
				chromago.NewStringAttribute("hnsw:space", "cosine"),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", name, err)
	}
	return &chromaGeneration{name: name, collection: collection}, nil
}

// Drop deletes the collection.
func (b *ChromaBackend) Drop(ctx context.Context, name string) error {
	if err := b.client.DeleteCollection(ctx, b.collectionName(name)); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

// List returns the generations stored under this backend's prefix.
func (b *ChromaBackend) List(ctx context.Context) ([]string, error) {
	collections, err := b.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	var names []string
	for _, c := range collections {
		name := c.Name()
		if b.prefix != "" {
			if !strings.HasPrefix(name, b.prefix+"-") {
				continue
			}
			name = strings.TrimPrefix(name, b.prefix+"-")
		}
		names = append(names, name)
	}
	return names, nil
}

// Close releases the client.
func (b *ChromaBackend) Close() error {
	return b.client.Close()
}

type chromaGeneration struct {
	name       string
	collection chromago.Collection
}

func (g *chromaGeneration) Name() string { return g.name }

func (g *chromaGeneration) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ids := make([]chromago.DocumentID, len(entries))
	for i, e := range entries {
		ids[i] = chromago.DocumentID(e.ChunkID)
	}
	seqs, err := g.existingSeqs(ctx, ids)
	if err != nil {
		return err
	}
	count, err := g.Count(ctx)
	if err != nil {
		return err
	}
	next := uint64(count)

	texts := make([]string, len(entries))
	embs := make([]embeddings.Embedding, len(entries))
	metas := make([]chromago.DocumentMetadata, len(entries))
	for i, e := range entries {
		seq, ok := seqs[e.ChunkID]
		if !ok {
			next++
			seq = next
		}
		attrs := []*chromago.MetaAttribute{chromago.NewIntAttribute(metaSeq, int64(seq))}
		for k, v := range e.Metadata {
			attrs = append(attrs, chromago.NewStringAttribute(k, v))
		}
		texts[i] = e.Text
		embs[i] = embeddings.NewEmbeddingFromFloat32(e.Embedding)
		metas[i] = chromago.NewDocumentMetadata(attrs...)
	}

	err = g.collection.Upsert(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(embs...),
		chromago.WithMetadatas(metas...),
	)
	if err != nil {
		return fmt.Errorf("upserting %d records into %s: %w", len(entries), g.name, err)
	}
	return nil
}

func (g *chromaGeneration) existingSeqs(ctx context.Context, ids []chromago.DocumentID) (map[string]uint64, error) {
	results, err := g.collection.Get(ctx, chromago.WithIDsGet(ids...))
	if err != nil {
		return nil, fmt.Errorf("looking up existing ids in %s: %w", g.name, err)
	}
	out := make(map[string]uint64)
	metas := results.GetMetadatas()
	for i, id := range results.GetIDs() {
		if i < len(metas) {
			_, seq := metadataToMap(metas[i])
			out[string(id)] = seq
		}
	}
	return out, nil
}

func (g *chromaGeneration) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	count, err := g.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	results, err := g.collection.Query(
		ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(chromaFetchSize(k, count)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chromadb: %w", err)
	}

	idGroups := results.GetIDGroups()
	documentGroups := results.GetDocumentsGroups()
	metadataGroups := results.GetMetadatasGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		e := Entry{ChunkID: string(id)}
		if len(documentGroups) > 0 && i < len(documentGroups[0]) {
			e.Text = documentGroups[0][i].ContentString()
		}
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) {
			e.Metadata, e.Seq = metadataToMap(metadataGroups[0][i])
		}
		score := 0.0
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			score = 1 - float64(distanceGroups[0][i])
		}
		matches = append(matches, Match{Entry: e, Score: score})
	}
	return rankMatches(matches, k), nil
}

// chromaFetchSize asks Chroma for extra neighbours so that score ties at the
// k boundary can be ordered by seq locally.
func chromaFetchSize(k, count int) int {
	n := k + max(k, minTieWindow)
	return min(n, count)
}

func (g *chromaGeneration) Count(ctx context.Context) (int, error) {
	count, err := g.collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count items in collection: %w", err)
	}
	return int(count), nil
}

func (g *chromaGeneration) Entries(ctx context.Context) ([]Entry, error) {
	results, err := g.collection.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents from chromadb: %w", err)
	}
	ids := results.GetIDs()
	documents := results.GetDocuments()
	metadatas := results.GetMetadatas()

	out := make([]Entry, 0, len(ids))
	for i, id := range ids {
		e := Entry{ChunkID: string(id)}
		if i < len(documents) {
			e.Text = documents[i].ContentString()
		}
		if i < len(metadatas) {
			e.Metadata, e.Seq = metadataToMap(metadatas[i])
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// metadataToMap flattens chroma metadata into string pairs plus the sequence
// number. DocumentMetadata has no public accessor for all values, so it goes
// through JSON.
func metadataToMap(meta chromago.DocumentMetadata) (map[string]string, uint64) {
	out := make(map[string]string)
	if meta == nil {
		return out, 0
	}
	jsonBytes, err := json.Marshal(meta)
	if err != nil {
		return out, 0
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &raw); err != nil {
		return out, 0
	}
	var seq uint64
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			if k == metaSeq {
				seq = uint64(val)
				continue
			}
			out[k] = fmt.Sprint(val)
		}
	}
	return out, seq
}
