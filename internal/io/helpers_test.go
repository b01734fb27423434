package io

import (
	"context"
	"errors"
	stdio "io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTempFile writes content to a new file in a per-test directory.
func createTempFile(t *testing.T, content string, pattern string) string {
	t.Helper()
	tempFile, err := os.CreateTemp(t.TempDir(), pattern)
	require.NoError(t, err, "create temp file (pattern: %s)", pattern)
	filePath := tempFile.Name()
	_, err = tempFile.WriteString(content)
	_ = tempFile.Close()
	require.NoError(t, err, "write temp file %s", filePath)
	return filePath
}

// drain reads every record, resolving the given selectors into plain maps.
// Absent selectors are left out of each map.
func drain(t *testing.T, r RecordReader, selectors ...string) []map[string]string {
	t.Helper()
	var out []map[string]string
	for {
		rec, err := r.Next(context.Background())
		if errors.Is(err, stdio.EOF) {
			return out
		}
		require.NoError(t, err)
		m := make(map[string]string)
		for _, s := range selectors {
			if v, ok := rec.Lookup(s); ok {
				m[s] = v
			}
		}
		out = append(out, m)
	}
}
