package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/finrag/internal/storage"
	"github.com/dshills/finrag/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestChunkerSplit(t *testing.T) {
	para := func(word string, n int) string {
		return strings.TrimSpace(strings.Repeat(word+" ", n))
	}

	tests := []struct {
		name     string
		maxChars int
		text     string
		want     []string
	}{
		{
			name:     "empty",
			maxChars: 100,
			text:     "  \n\n \n",
			want:     nil,
		},
		{
			name:     "small paragraphs packed together",
			maxChars: 100,
			text:     "alpha beta\n\ngamma   delta\nepsilon",
			want:     []string{"alpha beta\n\ngamma delta epsilon"},
		},
		{
			name:     "overlap repeats last paragraph",
			maxChars: 100,
			text:     para("aa", 12) + "\n\n" + para("bb", 12) + "\n\n" + para("cc", 12),
			want: []string{
				para("aa", 12) + "\n\n" + para("bb", 12),
				para("bb", 12) + "\n\n" + para("cc", 12),
			},
		},
		{
			name:     "no overlap when it cannot fit",
			maxChars: 100,
			text:     para("aa", 30) + "\n\n" + para("bb", 30),
			want:     []string{para("aa", 30), para("bb", 30)},
		},
		{
			name:     "crlf blank lines separate paragraphs",
			maxChars: 100,
			text:     para("aa", 30) + "\r\n\r\n" + para("bb", 30) + "\r\n",
			want:     []string{para("aa", 30), para("bb", 30)},
		},
		{
			name:     "whitespace-only line separates paragraphs",
			maxChars: 100,
			text:     para("aa", 30) + "\n \t \n" + para("bb", 30),
			want:     []string{para("aa", 30), para("bb", 30)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewChunker(tt.maxChars).Split(tt.text))
		})
	}
}

func TestChunkerLongParagraph(t *testing.T) {
	c := NewChunker(100)
	sentence := "Capital buffers absorb losses in stress. "
	text := strings.Repeat(sentence, 10)

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
		assert.NotEmpty(t, chunk)
	}

	t.Run("unbroken text", func(t *testing.T) {
		chunks := c.Split(strings.Repeat("é", 150))
		for _, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk), 100)
			assert.True(t, utf8.ValidString(chunk))
		}
	})
}

func TestNewChunkerDefaults(t *testing.T) {
	assert.Equal(t, DefaultMaxChars, NewChunker(0).MaxChars)
	assert.Equal(t, minMaxChars, NewChunker(10).MaxChars)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("markdown title from heading", func(t *testing.T) {
		path := writeFile(t, dir, "basel.md", "intro\r\n# Basel III\r\n\r\nCapital requirements.")
		doc, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, FormatMarkdown, doc.Format)
		assert.Equal(t, "Basel III", doc.Title)
		assert.NotContains(t, doc.Text, "\r")
		assert.True(t, filepath.IsAbs(doc.Source))
		assert.Equal(t, int64(len("intro\r\n# Basel III\r\n\r\nCapital requirements.")), doc.SizeBytes)
	})

	t.Run("text title from file name", func(t *testing.T) {
		path := writeFile(t, dir, "mortality-notes.txt", "mortality tables")
		doc, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, FormatText, doc.Format)
		assert.Equal(t, "mortality-notes", doc.Title)
	})

	t.Run("unsupported", func(t *testing.T) {
		path := writeFile(t, dir, "sheet.xlsx", "x")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("invalid pdf", func(t *testing.T) {
		path := writeFile(t, dir, "broken.pdf", "not a pdf")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatMarkdown, FormatOf("a/B.MD"))
	assert.Equal(t, FormatMarkdown, FormatOf("notes.markdown"))
	assert.Equal(t, FormatText, FormatOf("x.txt"))
	assert.Equal(t, FormatPDF, FormatOf("report.pdf"))
	assert.Equal(t, "", FormatOf("main.go"))
}

func setupStore(t *testing.T) *storage.SQLiteStorage {
	s, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIngestPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "basel.md", "# Basel\n\nBasel III capital requirements.\n\nLiquidity coverage ratio.")
	writeFile(t, dir, "sub/mortality.txt", "Mortality tables for annuities.")
	writeFile(t, dir, ".hidden/secret.md", "hidden")
	writeFile(t, dir, "empty.txt", "   ")
	writeFile(t, dir, "code.go", "package main")

	store := setupStore(t)
	ing := New(store, WithLogger(quietLogger()), WithWorkers(2))

	stats, err := ing.IngestPath(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentsIngested)
	assert.Equal(t, 1, stats.DocumentsFailed)
	assert.Equal(t, 2, stats.ChunksCreated)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "empty.txt")

	chunks, err := store.Chunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	basel := chunks[0]
	assert.Equal(t, "Basel", basel.Metadata[MetaTitle])
	assert.Equal(t, "0", basel.Metadata[MetaChunkIndex])
	assert.Equal(t, FormatMarkdown, basel.Metadata[MetaFormat])
	assert.Equal(t, filepath.Join(dir, "basel.md"), basel.Source())
	assert.Contains(t, basel.Text, "Liquidity coverage ratio.")

	t.Run("unchanged documents are skipped", func(t *testing.T) {
		again, err := ing.IngestPath(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, 0, again.DocumentsIngested)
		assert.Equal(t, 2, again.DocumentsSkipped)
	})

	t.Run("changed document replaces its chunks", func(t *testing.T) {
		writeFile(t, dir, "sub/mortality.txt", "Revised mortality tables.\n\nLongevity improvements.")
		again, err := New(store, WithLogger(quietLogger()), WithMaxChars(100)).IngestPath(ctx, filepath.Join(dir, "sub"))
		require.NoError(t, err)
		assert.Equal(t, 1, again.DocumentsIngested)

		chunks, err := store.Chunks(ctx)
		require.NoError(t, err)
		var texts []string
		for _, c := range chunks {
			if strings.HasSuffix(c.Source(), "mortality.txt") {
				texts = append(texts, c.Text)
			}
		}
		assert.Equal(t, []string{"Revised mortality tables.\n\nLongevity improvements."}, texts)
	})

	t.Run("single unsupported file", func(t *testing.T) {
		_, err := ing.IngestPath(ctx, filepath.Join(dir, "code.go"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := ing.IngestPath(ctx, filepath.Join(dir, "nope"))
		assert.Error(t, err)
	})
}

func TestIngestCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "text")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(setupStore(t), WithLogger(quietLogger())).IngestPath(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

var _ Store = (storage.Storage)(nil)

func TestChunksCarrySource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", "one\n\ntwo")
	store := setupStore(t)

	_, err := New(store, WithLogger(quietLogger())).IngestPath(context.Background(), path)
	require.NoError(t, err)

	chunks, err := store.Chunks(context.Background())
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Metadata[types.MetaSource])
	}
}
