package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgallion1/ragingest/internal/embed"
	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig addresses the qdrant gRPC endpoint (port 6334, not the REST port).
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// qdrantAPI is the part of *qdrant.Client the sink uses.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Close() error
}

// QdrantSink embeds fragment contents and upserts them as qdrant points. The
// collection is created on first insert with the size of the first vector.
type QdrantSink struct {
	client     qdrantAPI
	collection string
	embedder   embed.Embedder
	log        *slog.Logger

	mu    sync.Mutex
	ready bool
}

func NewQdrantSink(cfg QdrantConfig, emb embed.Embedder, log *slog.Logger) (*QdrantSink, error) {
	if cfg.Collection == "" {
		return nil, errors.New("qdrant collection is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	log.Info("qdrant sink configured", "host", cfg.Host, "port", cfg.Port, "collection", cfg.Collection)
	return newQdrantSink(client, cfg.Collection, emb, log), nil
}

func newQdrantSink(client qdrantAPI, collection string, emb embed.Embedder, log *slog.Logger) *QdrantSink {
	return &QdrantSink{
		client:     client,
		collection: collection,
		embedder:   emb,
		log:        log,
	}
}

func (s *QdrantSink) Insert(ctx context.Context, batch fragment.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	vecs, err := embedBatch(ctx, s.embedder, batch)
	if err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, uint64(len(vecs[0]))); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(batch))
	for i, f := range batch {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(f)),
			Vectors: qdrant.NewVectors(vecs[i]...),
			Payload: qdrantPayload(f),
		}
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	}); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *QdrantSink) ensureCollection(ctx context.Context, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection: %w", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     size,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create qdrant collection: %w", err)
		}
		s.log.Info("created qdrant collection", "collection", s.collection, "size", size)
	}
	s.ready = true
	return nil
}

func qdrantPayload(f fragment.Fragment) map[string]*qdrant.Value {
	src := Payload(f)
	out := make(map[string]*qdrant.Value, len(src))
	for k, v := range src {
		out[k] = qdrantValue(v)
	}
	return out
}

func qdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return qdrant.NewValueString(val)
	case int:
		return qdrant.NewValueInt(int64(val))
	case int64:
		return qdrant.NewValueInt(val)
	case float64:
		return qdrant.NewValueDouble(val)
	case bool:
		return qdrant.NewValueBool(val)
	}
	return qdrant.NewValueString(fmt.Sprintf("%v", v))
}

func (s *QdrantSink) Close() error {
	return s.client.Close()
}
