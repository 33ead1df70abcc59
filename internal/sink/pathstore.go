package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/dgallion1/ragingest/internal/pathstore"
)

// PathstoreConfig points at a pathstore KV server.
type PathstoreConfig struct {
	URL    string
	APIKey string
	Prefix string
}

// PathstoreSink writes each fragment as one pathstore node under
// <prefix>/<filename>/<id>.
type PathstoreSink struct {
	client *pathstore.Client
	prefix string
	log    *slog.Logger
}

func NewPathstoreSink(cfg PathstoreConfig, log *slog.Logger) (*PathstoreSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("pathstore url is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "ragingest/fragments"
	}
	return &PathstoreSink{
		client: pathstore.NewClient(cfg.URL, cfg.APIKey, log),
		prefix: prefix,
		log:    log,
	}, nil
}

// Insert writes every fragment of the batch and joins the failures.
func (s *PathstoreSink) Insert(ctx context.Context, batch fragment.Batch) error {
	var errs []error
	for _, f := range batch {
		key := s.key(f)
		err := s.client.PutNode(ctx, key, pathstore.NodeRequest{
			Value:      nodeValue(f),
			MemoryType: "document",
			Source:     "ragingest:" + f.StringAttr(fragment.AttrSource),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("put %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		s.log.Warn("pathstore batch incomplete", "failed", len(errs), "batch_size", len(batch))
	}
	return errors.Join(errs...)
}

func (s *PathstoreSink) key(f fragment.Fragment) string {
	filename := f.StringAttr(fragment.AttrFilename)
	if filename == "" {
		filename = "unknown"
	}
	return s.prefix + "/" + url.PathEscape(filename) + "/" + url.PathEscape(f.ID)
}

func nodeValue(f fragment.Fragment) map[string]any {
	v := Payload(f)
	v["id"] = f.ID
	return v
}

func (s *PathstoreSink) Close() error {
	return s.client.Close()
}
