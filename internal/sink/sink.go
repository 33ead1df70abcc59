// Package sink delivers merged fragment batches to a storage backend.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/ragingest/internal/embed"
	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/google/uuid"
)

// Sink receives one batch per call. Implementations are safe for concurrent use.
type Sink interface {
	Insert(ctx context.Context, batch fragment.Batch) error
}

// Backend names.
const (
	KindPathstore = "pathstore"
	KindQdrant    = "qdrant"
	KindChromem   = "chromem"
	KindBadger    = "badger"
)

// Config selects and configures a backend.
type Config struct {
	Kind      string
	Pathstore PathstoreConfig
	Qdrant    QdrantConfig
	Chromem   ChromemConfig
	Badger    BadgerConfig
}

// New builds the configured sink. Qdrant and chromem need an embedder. The
// returned sink may implement io.Closer.
func New(cfg Config, emb embed.Embedder, log *slog.Logger) (Sink, error) {
	log = log.With("sink", cfg.Kind)
	switch cfg.Kind {
	case KindPathstore:
		return NewPathstoreSink(cfg.Pathstore, log)
	case KindQdrant:
		if emb == nil {
			return nil, errors.New("qdrant sink requires an embedder")
		}
		return NewQdrantSink(cfg.Qdrant, emb, log)
	case KindChromem:
		if emb == nil {
			return nil, errors.New("chromem sink requires an embedder")
		}
		return NewChromemSink(cfg.Chromem, emb, log)
	case KindBadger:
		return NewBadgerSink(cfg.Badger, log)
	}
	return nil, fmt.Errorf("unknown sink %q", cfg.Kind)
}

// NeedsEmbedder reports whether the backend stores vectors.
func NeedsEmbedder(kind string) bool {
	return kind == KindQdrant || kind == KindChromem
}

// Payload returns the stored fields of a fragment: its text plus the
// provenance attributes vector store clients filter on.
func Payload(f fragment.Fragment) map[string]any {
	p := map[string]any{
		"text":     f.Content,
		"category": string(f.Category),
	}
	for _, key := range []string{
		fragment.AttrSource,
		fragment.AttrFilename,
		fragment.AttrFiletype,
		fragment.AttrTitle,
		fragment.AttrCategoryDepth,
		fragment.AttrPageNumber,
		fragment.AttrChunkIndex,
		fragment.AttrOriginID,
	} {
		if v, ok := f.Attributes[key]; ok && v != nil {
			p[key] = v
		}
	}
	if f.HasParent() {
		p["parent_id"] = f.ParentID
	}
	return p
}

// pointID maps a fragment id to a UUID. Parser ids already are UUIDs; other
// ids get a stable name-based UUID scoped by source.
func pointID(f fragment.Fragment) string {
	if id, err := uuid.Parse(f.ID); err == nil {
		return id.String()
	}
	name := f.StringAttr(fragment.AttrSource) + "\x00" + f.ID
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func contents(batch fragment.Batch) []string {
	texts := make([]string, len(batch))
	for i, f := range batch {
		texts[i] = f.Content
	}
	return texts
}

// embedBatch embeds every fragment content and checks the vector count.
func embedBatch(ctx context.Context, emb embed.Embedder, batch fragment.Batch) ([][]float32, error) {
	vecs, err := emb.EmbedDocuments(ctx, contents(batch))
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embed batch: got %d vectors for %d fragments", len(vecs), len(batch))
	}
	return vecs, nil
}

// Counter is implemented by sinks that can report how many fragments they hold.
type Counter interface {
	Count(ctx context.Context) (int, error)
}
