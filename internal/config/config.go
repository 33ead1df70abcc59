// Package config loads ragingest settings from built-in defaults, an
// optional YAML file and RAGINGEST_-prefixed environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgallion1/ragingest/internal/chunker"
	"github.com/dgallion1/ragingest/internal/embed"
	"github.com/dgallion1/ragingest/internal/parser"
	"github.com/dgallion1/ragingest/internal/pipeline"
	"github.com/dgallion1/ragingest/internal/sink"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "RAGINGEST_"

const maxConfigFileSize = 1024 * 1024 // 1MB

type Config struct {
	Port   string `koanf:"port"`
	APIKey string `koanf:"api_key"` // bearer token for /api; empty disables auth

	SourceDir      string        `koanf:"source_dir"`
	Extensions     []string      `koanf:"extensions"` // empty means every parser.SupportedExtensions entry
	BatchSize      int           `koanf:"batch_size"`
	QueueCapacity  int           `koanf:"queue_capacity"`
	EnqueueTimeout time.Duration `koanf:"enqueue_timeout"`

	Sink      string          `koanf:"sink"`
	Chunk     ChunkConfig     `koanf:"chunk"`
	Pathstore PathstoreConfig `koanf:"pathstore"`
	Qdrant    QdrantConfig    `koanf:"qdrant"`
	Chromem   ChromemConfig   `koanf:"chromem"`
	Badger    BadgerConfig    `koanf:"badger"`
	Embedding EmbeddingConfig `koanf:"embedding"`

	MaxConcurrentRuns int           `koanf:"max_concurrent_runs"`
	RunTTL            time.Duration `koanf:"run_ttl"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	PDFFallbackPdftotext bool `koanf:"pdf_fallback_pdftotext"`
}

type ChunkConfig struct {
	MaxChars int `koanf:"max_chars"`
	Size     int `koanf:"size"`
	Overlap  int `koanf:"overlap"`
}

type PathstoreConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
	Prefix string `koanf:"prefix"`
}

type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	APIKey     string `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	Collection string `koanf:"collection"`
}

type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

type BadgerConfig struct {
	Path string `koanf:"path"`
}

type EmbeddingConfig struct {
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    string `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
}

const defaults = `
port: "8090"
source_dir: "."
batch_size: 100
queue_capacity: 10
enqueue_timeout: 0s
sink: badger
chunk:
  max_chars: 5000
  size: 1500
  overlap: 200
pathstore:
  url: http://localhost:8080
  prefix: ragingest/fragments
qdrant:
  host: localhost
  port: 6334
  collection: fragments
chromem:
  path: ./data/chromem
  collection: fragments
  compress: false
badger:
  path: ./data/badger
embedding:
  base_url: http://localhost:11434/v1
  model: nomic-embed-text
max_concurrent_runs: 2
run_ttl: 1h
log_level: info
log_format: json
pdf_fallback_pdftotext: true
`

// sections are the nested keys; RAGINGEST_QDRANT_API_KEY maps to qdrant.api_key.
var sections = []string{"chunk", "pathstore", "qdrant", "chromem", "badger", "embedding"}

// listKeys are read from the environment as comma-separated values.
var listKeys = []string{"extensions"}

// Load reads defaults, then the YAML file at path when path is non-empty,
// then the environment, and validates the result.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = parser.Extensions()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps RAGINGEST_CHUNK_MAX_CHARS to chunk.max_chars and
// RAGINGEST_BATCH_SIZE to batch_size.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if ok && slices.Contains(sections, section) {
		return section + "." + rest
	}
	return key
}

// envValue maps the key like envKey and splits list values on commas, so
// RAGINGEST_EXTENSIONS=".md,.txt" becomes [".md", ".txt"].
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !slices.Contains(listKeys, key) {
		return key, value
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue_capacity must be >= 1, got %d", c.QueueCapacity))
	}
	if c.EnqueueTimeout < 0 {
		errs = append(errs, errors.New("enqueue_timeout must not be negative"))
	}
	for _, ext := range c.Extensions {
		if !parser.IsSupportedExtension("x" + normalizeExt(ext)) {
			errs = append(errs, fmt.Errorf("extension %q has no parser", ext))
		}
	}
	if c.MaxConcurrentRuns < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_runs must be >= 1, got %d", c.MaxConcurrentRuns))
	}
	if c.Chunk.MaxChars > 0 {
		if c.Chunk.Size < 1 {
			errs = append(errs, errors.New("chunk.size must be >= 1 when chunk.max_chars is set"))
		}
		if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
			errs = append(errs, errors.New("chunk.overlap must be in [0, chunk.size)"))
		}
	}

	switch c.Sink {
	case sink.KindPathstore:
		if c.Pathstore.URL == "" {
			errs = append(errs, errors.New("pathstore.url is required for the pathstore sink"))
		}
	case sink.KindQdrant:
		if c.Qdrant.Collection == "" {
			errs = append(errs, errors.New("qdrant.collection is required for the qdrant sink"))
		}
	case sink.KindChromem:
		if c.Chromem.Collection == "" {
			errs = append(errs, errors.New("chromem.collection is required for the chromem sink"))
		}
	case sink.KindBadger:
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q (want pathstore, qdrant, chromem or badger)", c.Sink))
	}
	if sink.NeedsEmbedder(c.Sink) && (c.Embedding.BaseURL == "" || c.Embedding.Model == "") {
		errs = append(errs, fmt.Errorf("embedding.base_url and embedding.model are required for the %s sink", c.Sink))
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log_format must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// PipelineConfig returns the per-run settings.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		SourceDir:      c.SourceDir,
		Extensions:     c.Extensions,
		BatchSize:      c.BatchSize,
		QueueCapacity:  c.QueueCapacity,
		EnqueueTimeout: c.EnqueueTimeout,
		Chunk: chunker.Config{
			MaxChars:     c.Chunk.MaxChars,
			ChunkSize:    c.Chunk.Size,
			ChunkOverlap: c.Chunk.Overlap,
		},
	}
}

// SinkConfig returns the backend settings.
func (c Config) SinkConfig() sink.Config {
	return sink.Config{
		Kind: c.Sink,
		Pathstore: sink.PathstoreConfig{
			URL:    c.Pathstore.URL,
			APIKey: c.Pathstore.APIKey,
			Prefix: c.Pathstore.Prefix,
		},
		Qdrant: sink.QdrantConfig{
			Host:       c.Qdrant.Host,
			Port:       c.Qdrant.Port,
			APIKey:     c.Qdrant.APIKey,
			UseTLS:     c.Qdrant.UseTLS,
			Collection: c.Qdrant.Collection,
		},
		Chromem: sink.ChromemConfig{
			Path:       c.Chromem.Path,
			Collection: c.Chromem.Collection,
			Compress:   c.Chromem.Compress,
		},
		Badger: sink.BadgerConfig{Path: c.Badger.Path},
	}
}

// EmbedConfig returns the embedding endpoint settings.
func (c Config) EmbedConfig() embed.Config {
	return embed.Config{
		BaseURL:   c.Embedding.BaseURL,
		Model:     c.Embedding.Model,
		APIKey:    c.Embedding.APIKey,
		Dimension: c.Embedding.Dimension,
	}
}
