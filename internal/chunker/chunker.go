// Package chunker splits oversized merged fragments into pieces small enough
// for embedding while keeping their provenance attributes.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
)

// Config controls splitting. All sizes are in characters (runes).
type Config struct {
	MaxChars     int // Fragments at or below this length are left alone. <=0 disables splitting.
	ChunkSize    int // Target piece size, capped at MaxChars.
	ChunkOverlap int // Overlap carried between consecutive pieces.
}

// DefaultConfig returns the defaults used by the CLI and server.
func DefaultConfig() Config {
	return Config{
		MaxChars:     5000,
		ChunkSize:    1500,
		ChunkOverlap: 200,
	}
}

// separators are tried in order: paragraphs, lines, CJK and Latin sentence
// ends, words, and finally single characters.
var separators = []string{"\n\n", "\n", "。", ". ", " ", ""}

// SplitFragments returns frags with every fragment longer than cfg.MaxChars
// replaced by its pieces, in place. Pieces copy the original attributes,
// receive fresh ids, and record chunk_index and origin_id. Fragments that fit
// are returned unchanged and the input slice is never modified.
func SplitFragments(frags []fragment.Fragment, cfg Config) []fragment.Fragment {
	if cfg.MaxChars <= 0 {
		return frags
	}
	size := cfg.MaxChars
	if cfg.ChunkSize > 0 && cfg.ChunkSize < size {
		size = cfg.ChunkSize
	}

	out := make([]fragment.Fragment, 0, len(frags))
	for _, f := range frags {
		if utf8.RuneCountInString(f.Content) <= cfg.MaxChars {
			out = append(out, f)
			continue
		}
		parts := Split(f.Content, size, cfg.ChunkOverlap)
		if len(parts) <= 1 {
			out = append(out, f)
			continue
		}
		for i, part := range parts {
			piece := f.Clone()
			piece.ID = uuid.NewString()
			piece.Content = part
			piece.SetAttr(fragment.AttrChunkIndex, i)
			piece.SetAttr(fragment.AttrOriginID, f.ID)
			out = append(out, piece)
		}
	}
	return out
}

// Split breaks text into pieces of at most size characters, preferring
// paragraph, line and sentence boundaries. overlap is clamped to [0, size).
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	s := textsplitter.NewRecursiveCharacter(
		textsplitter.WithSeparators(separators),
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	parts, err := s.SplitText(text)
	if err != nil {
		parts = []string{text}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		out = append(out, runeWindows(p, size)...)
	}
	return out
}

// runeWindows cuts text into consecutive windows of at most size runes.
func runeWindows(text string, size int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	var out []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
