package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_EmptyInputs(t *testing.T) {
	src := Source{DocID: "d1"}

	assert.Nil(t, Chunk("", src, DefaultOptions()))
	assert.Nil(t, Chunk("some text", Source{}, DefaultOptions()))
}

func TestChunk_SingleWindow(t *testing.T) {
	chunks := Chunk("hello world", Source{DocID: "d1", Title: "T"}, Options{ChunkSize: 512, Overlap: 64})

	require.Len(t, chunks, 1)
	assert.Equal(t, "doc:d1#chunk:0", chunks[0].ChunkID)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, "T", chunks[0].Title)
}

func TestChunk_OverlappingWindows(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10) // 100 chars
	chunks := Chunk(text, Source{DocID: "d1"}, Options{ChunkSize: 40, Overlap: 10})

	// step 30: windows at 0, 30, 60, 90
	require.Len(t, chunks, 4)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, ID("d1", i), c.ChunkID)
	}
	// consecutive windows share the overlap region
	assert.Equal(t, chunks[0].Text[30:], chunks[1].Text[:10])
}

func TestChunk_OverlapClampedToChunkSize(t *testing.T) {
	text := strings.Repeat("x", 30)

	// overlap >= chunk size must still make forward progress
	chunks := Chunk(text, Source{DocID: "d1"}, Options{ChunkSize: 10, Overlap: 10})
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}

	chunks = Chunk(text, Source{DocID: "d1"}, Options{ChunkSize: 10, Overlap: 50})
	require.NotEmpty(t, chunks)
}

func TestChunk_WhitespaceWindowsSkipIndexSlot(t *testing.T) {
	// 10-char windows, no overlap: window 1 is pure whitespace
	text := "aaaaaaaaaa          bbbbbbbbbb"
	chunks := Chunk(text, Source{DocID: "d1"}, Options{ChunkSize: 10, Overlap: 0})

	require.Len(t, chunks, 2)
	assert.Equal(t, "aaaaaaaaaa", chunks[0].Text)
	assert.Equal(t, "bbbbbbbbbb", chunks[1].Text)
	// the skipped window did not consume an index
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
	assert.Equal(t, "doc:d1#chunk:1", chunks[1].ChunkID)
}

func TestChunk_TrimsButPreservesInternalStructure(t *testing.T) {
	text := "  line one\nline two  "
	chunks := Chunk(text, Source{DocID: "d1"}, Options{ChunkSize: 512, Overlap: 0})

	require.Len(t, chunks, 1)
	assert.Equal(t, "line one\nline two", chunks[0].Text)
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox ", 50)
	opts := Options{ChunkSize: 64, Overlap: 16}
	src := Source{DocID: "d1", Title: "Fox"}

	a := Chunk(text, src, opts)
	b := Chunk(text, src, opts)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}

func TestChunk_ZeroChunkSizeFallsBackToDefault(t *testing.T) {
	chunks := Chunk("short", Source{DocID: "d1"}, Options{})
	require.Len(t, chunks, 1)
}
