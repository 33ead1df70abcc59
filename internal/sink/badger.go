package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// BadgerConfig locates the embedded store. An empty Path keeps the store in
// memory.
type BadgerConfig struct {
	Path string
}

// BadgerSink stores JSON-encoded fragments keyed frag/<source>/<id>.
type BadgerSink struct {
	db  *badger.DB
	log *slog.Logger
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	log *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any)   { l.log.Error(fmt.Sprintf(msg, args...)) }
func (l *badgerLogger) Warningf(msg string, args ...any) { l.log.Warn(fmt.Sprintf(msg, args...)) }
func (l *badgerLogger) Infof(msg string, args ...any)    { l.log.Debug(fmt.Sprintf(msg, args...)) }
func (l *badgerLogger) Debugf(msg string, args ...any)   { l.log.Debug(fmt.Sprintf(msg, args...)) }

func NewBadgerSink(cfg BadgerConfig, log *slog.Logger) (*BadgerSink, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &badgerLogger{log: log}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerSink{db: db, log: log}, nil
}

func fragmentKey(f fragment.Fragment) []byte {
	return []byte("frag/" + f.StringAttr(fragment.AttrSource) + "/" + f.ID)
}

// Insert writes the whole batch in one transaction.
func (s *BadgerSink) Insert(ctx context.Context, batch fragment.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, f := range batch {
			data, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("marshal fragment %s: %w", f.ID, err)
			}
			if err := txn.Set(fragmentKey(f), data); err != nil {
				return fmt.Errorf("set fragment %s: %w", f.ID, err)
			}
		}
		return nil
	})
}

// Get loads one stored fragment, or nil when absent.
func (s *BadgerSink) Get(source, id string) (*fragment.Fragment, error) {
	var f *fragment.Fragment
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("frag/" + source + "/" + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			f = &fragment.Fragment{}
			return json.Unmarshal(val, f)
		})
	})
	return f, err
}

// Count returns the number of stored fragments.
func (s *BadgerSink) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("frag/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerSink) Close() error {
	return s.db.Close()
}
