package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frags.json")
	in := `[
		{"id": "h1", "category": "Title", "content": "Guide"},
		{"id": "h2", "parent_id": "h1", "category": "Title", "content": "Install"},
		{"id": "b1", "parent_id": "h2", "category": "NarrativeText", "content": "pip install foo"},
		{"id": "b2", "parent_id": "nope", "category": "NarrativeText", "content": "stray"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(in), 0o644))

	var stdout, stderr bytes.Buffer
	mergeCmd.SetOut(&stdout)
	mergeCmd.SetErr(&stderr)
	require.NoError(t, mergeCmd.RunE(mergeCmd, []string{path}))

	var out []fragment.Fragment
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "stray", out[0].Content)
	assert.Equal(t, "Guide -> Install pip install foo", out[1].Content)
	assert.Contains(t, stderr.String(), "b2")
}

func TestMergeCommand_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frags.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	assert.Error(t, mergeCmd.RunE(mergeCmd, []string{path}))
}
