package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/ragingest/internal/fragment"
)

// TextParser handles plain text files. Each paragraph becomes a standalone
// NarrativeText fragment.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) ([]fragment.Fragment, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	b := newBuilder(filename)
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				b.block(fragment.NarrativeText, current.String())
				current.Reset()
			}
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	if current.Len() > 0 {
		b.block(fragment.NarrativeText, current.String())
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b.fragments(), nil
}
