package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgallion1/ragingest/internal/embed"
	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/philippgille/chromem-go"
)

// ChromemConfig configures the embedded chromem store. An empty Path keeps
// the database in memory.
type ChromemConfig struct {
	Path       string
	Collection string
	Compress   bool
}

// ChromemSink stores embedded fragments in a chromem collection.
type ChromemSink struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embed.Embedder
	log        *slog.Logger
}

func NewChromemSink(cfg ChromemConfig, emb embed.Embedder, log *slog.Logger) (*ChromemSink, error) {
	if cfg.Collection == "" {
		return nil, errors.New("chromem collection is required")
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return emb.EmbedQuery(ctx, text)
	}
	coll, err := db.GetOrCreateCollection(cfg.Collection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection %s: %w", cfg.Collection, err)
	}
	log.Info("chromem sink configured", "path", cfg.Path, "collection", cfg.Collection, "documents", coll.Count())

	return &ChromemSink{
		db:         db,
		collection: coll,
		embedder:   emb,
		log:        log,
	}, nil
}

func (s *ChromemSink) Insert(ctx context.Context, batch fragment.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	vecs, err := embedBatch(ctx, s.embedder, batch)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(batch))
	for i, f := range batch {
		docs[i] = chromem.Document{
			ID:        f.ID,
			Content:   f.Content,
			Metadata:  stringMetadata(Payload(f)),
			Embedding: vecs[i],
		}
	}
	// Embeddings are precomputed, so one goroutine is enough.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromem add: %w", err)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (s *ChromemSink) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.collection.Count(), nil
}

// stringMetadata flattens the payload for chromem, which only stores strings.
// The text itself is the document content.
func stringMetadata(p map[string]any) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		if k == "text" {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// Close is a no-op; persistent chromem writes through on every add.
func (s *ChromemSink) Close() error {
	return nil
}
