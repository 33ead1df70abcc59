package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEmbedder returns a deterministic 3-dimensional vector per text.
type fakeEmbedder struct {
	err error
}

func (e fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t) + 1), 1, 0.5}
	}
	return out, nil
}

func (e fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func testBatch() fragment.Batch {
	return fragment.Batch{
		{
			ID:       "11111111-1111-4111-8111-111111111111",
			Category: fragment.Content,
			Content:  "Guide -> Install run make",
			Attributes: map[string]any{
				fragment.AttrSource:        "docs/guide.md",
				fragment.AttrFilename:      "guide.md",
				fragment.AttrFiletype:      "text/markdown",
				fragment.AttrTitle:         "Install",
				fragment.AttrCategoryDepth: 1,
			},
		},
		{
			ID:       "orphan",
			ParentID: "99",
			Category: fragment.NarrativeText,
			Content:  "standalone text",
			Attributes: map[string]any{
				fragment.AttrSource:   "docs/guide.md",
				fragment.AttrFilename: "guide.md",
			},
		},
	}
}

func TestPayload(t *testing.T) {
	b := testBatch()
	p := Payload(b[0])
	assert.Equal(t, "Guide -> Install run make", p["text"])
	assert.Equal(t, "content", p["category"])
	assert.Equal(t, "Install", p["title"])
	assert.Equal(t, 1, p["category_depth"])
	assert.Equal(t, "guide.md", p["filename"])
	assert.NotContains(t, p, "parent_id")
	assert.NotContains(t, p, "page_number")

	p = Payload(b[1])
	assert.Equal(t, "99", p["parent_id"])
}

func TestPointID(t *testing.T) {
	b := testBatch()
	assert.Equal(t, b[0].ID, pointID(b[0]))

	id := pointID(b[1])
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, pointID(b[1]), "name-based ids are stable")

	other := b[1].Clone()
	other.SetAttr(fragment.AttrSource, "docs/other.md")
	assert.NotEqual(t, id, pointID(other))
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(Config{Kind: "nope"}, nil, testLogger())
	require.Error(t, err)
}

func TestNew_VectorSinksNeedEmbedder(t *testing.T) {
	_, err := New(Config{Kind: KindChromem, Chromem: ChromemConfig{Collection: "c"}}, nil, testLogger())
	require.Error(t, err)
	_, err = New(Config{Kind: KindQdrant, Qdrant: QdrantConfig{Collection: "c"}}, nil, testLogger())
	require.Error(t, err)
	assert.True(t, NeedsEmbedder(KindQdrant))
	assert.False(t, NeedsEmbedder(KindBadger))
}

func TestPathstoreSink_Insert(t *testing.T) {
	var mu sync.Mutex
	got := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value  map[string]any `json:"value"`
			Source string         `json:"source"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ragingest:docs/guide.md", body.Source)
		mu.Lock()
		got[r.URL.Path] = body.Value
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s, err := New(Config{Kind: KindPathstore, Pathstore: PathstoreConfig{URL: srv.URL, Prefix: "/kb/"}}, nil, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Insert(context.Background(), testBatch()))

	require.Len(t, got, 2)
	node := got["/kv/kb/guide.md/11111111-1111-4111-8111-111111111111"]
	require.NotNil(t, node)
	assert.Equal(t, "Guide -> Install run make", node["text"])
	assert.Equal(t, "Install", node["title"])
	assert.Contains(t, got, "/kv/kb/guide.md/orphan")
}

func TestPathstoreSink_PartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/orphan") {
			http.Error(w, "rejected", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewPathstoreSink(PathstoreConfig{URL: srv.URL}, testLogger())
	require.NoError(t, err)
	err = s.Insert(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orphan")
	assert.NotContains(t, err.Error(), "11111111")
}

func TestBadgerSink_InsertAndGet(t *testing.T) {
	s, err := NewBadgerSink(BadgerConfig{}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testBatch()))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := s.Get("docs/guide.md", "orphan")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "standalone text", f.Content)
	assert.Equal(t, "99", f.ParentID)

	missing, err := s.Get("docs/guide.md", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBadgerSink_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadgerSink(BadgerConfig{Path: dir}, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, testBatch()))
	require.NoError(t, s.Close())

	s, err = NewBadgerSink(BadgerConfig{Path: dir}, testLogger())
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestChromemSink_Insert(t *testing.T) {
	s, err := NewChromemSink(ChromemConfig{Collection: "fragments"}, fakeEmbedder{}, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testBatch()))
	require.NoError(t, s.Insert(ctx, nil))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, err := s.collection.GetByID(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, "standalone text", doc.Content)
	assert.Equal(t, "99", doc.Metadata["parent_id"])
	assert.NotContains(t, doc.Metadata, "text")
}

func TestChromemSink_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := ChromemConfig{Path: dir, Collection: "fragments"}

	s, err := NewChromemSink(cfg, fakeEmbedder{}, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, testBatch()))

	reopened, err := NewChromemSink(cfg, fakeEmbedder{}, testLogger())
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestChromemSink_EmbedFailure(t *testing.T) {
	s, err := NewChromemSink(ChromemConfig{Collection: "fragments"}, fakeEmbedder{err: errors.New("down")}, testLogger())
	require.NoError(t, err)
	err = s.Insert(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed batch")
}

// fakeQdrant records calls made by QdrantSink.
type fakeQdrant struct {
	mu        sync.Mutex
	exists    bool
	created   []*qdrant.CreateCollection
	upserts   []*qdrant.UpsertPoints
	upsertErr error
}

func (f *fakeQdrant) CollectionExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeQdrant) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	f.exists = true
	return nil
}

func (f *fakeQdrant) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Close() error { return nil }

func TestQdrantSink_CreatesCollectionOnce(t *testing.T) {
	fq := &fakeQdrant{}
	s := newQdrantSink(fq, "fragments", fakeEmbedder{}, testLogger())
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testBatch()))
	require.NoError(t, s.Insert(ctx, testBatch()))

	require.Len(t, fq.created, 1)
	assert.Equal(t, "fragments", fq.created[0].CollectionName)
	assert.Equal(t, uint64(3), fq.created[0].GetVectorsConfig().GetParams().GetSize())

	require.Len(t, fq.upserts, 2)
	req := fq.upserts[0]
	assert.Equal(t, "fragments", req.CollectionName)
	assert.True(t, req.GetWait())
	require.Len(t, req.Points, 2)

	p := req.Points[0]
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", p.GetId().GetUuid())
	assert.Equal(t, "Guide -> Install run make", p.Payload["text"].GetStringValue())
	assert.Equal(t, "Install", p.Payload["title"].GetStringValue())
	assert.Equal(t, int64(1), p.Payload["category_depth"].GetIntegerValue())
}

func TestQdrantSink_ExistingCollection(t *testing.T) {
	fq := &fakeQdrant{exists: true}
	s := newQdrantSink(fq, "fragments", fakeEmbedder{}, testLogger())
	require.NoError(t, s.Insert(context.Background(), testBatch()))
	assert.Empty(t, fq.created)
}

func TestQdrantSink_UpsertError(t *testing.T) {
	fq := &fakeQdrant{upsertErr: errors.New("unavailable")}
	s := newQdrantSink(fq, "fragments", fakeEmbedder{}, testLogger())
	err := s.Insert(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant upsert")
}

func TestQdrantSink_EmptyBatch(t *testing.T) {
	fq := &fakeQdrant{}
	s := newQdrantSink(fq, "fragments", fakeEmbedder{}, testLogger())
	require.NoError(t, s.Insert(context.Background(), nil))
	assert.Empty(t, fq.upserts)
}
