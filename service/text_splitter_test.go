package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/docrag/types"
)

func sampleText() string {
	sentences := []string{
		"Vector databases index embeddings for nearest neighbour search.",
		"Chunks overlap so that a sentence cut at a boundary still appears whole somewhere.",
		"The quick brown fox jumps over the lazy dog.",
		"Ingestion extracts text, splits it, embeds every chunk and stores the vectors.",
	}
	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteString(sentences[i%len(sentences)])
		if i%3 == 2 {
			b.WriteString("\n\n")
		} else {
			b.WriteString(" ")
		}
	}
	return b.String()
}

func TestNewTextSplitter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"valid", 512, 102, false},
		{"zero overlap", 10, 0, false},
		{"overlap equals size", 100, 100, true},
		{"overlap above size", 100, 150, true},
		{"zero size", 0, 0, true},
		{"negative overlap", 100, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewTextSplitter(tt.size, tt.overlap)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrValidation)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, s.ChunkSize())
			assert.Equal(t, tt.overlap, s.ChunkOverlap())
		})
	}
}

func TestSplit_DegenerateInputs(t *testing.T) {
	s, err := NewTextSplitter(50, 10)
	require.NoError(t, err)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split(" \n\n\t "))
	assert.Equal(t, []string{"short text"}, s.Split("short text"))
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	s, err := NewTextSplitter(30, 5)
	require.NoError(t, err)

	chunks := s.Split("First paragraph here.\n\nSecond paragraph here.")
	assert.Equal(t, []string{"First paragraph here.", "Second paragraph here."}, chunks)
}

func TestSplit_WordOverlap(t *testing.T) {
	s, err := NewTextSplitter(20, 8)
	require.NoError(t, err)

	chunks := s.Split("one two three four five six seven eight nine ten")
	assert.Equal(t, []string{
		"one two three four",
		"four five six seven",
		"seven eight nine ten",
	}, chunks)
}

func TestSplit_HardCutWithoutBoundaries(t *testing.T) {
	s, err := NewTextSplitter(10, 2)
	require.NoError(t, err)

	chunks := s.Split("abcdefghijklmnopqrstuvwxy")
	assert.Equal(t, []string{"abcdefghij", "ijklmnopqr", "qrstuvwxy"}, chunks)
}

func TestSplit_SizeBoundAndSubstrings(t *testing.T) {
	text := sampleText()
	for _, cfg := range [][2]int{{512, 102}, {100, 20}, {64, 0}, {17, 16}} {
		s, err := NewTextSplitter(cfg[0], cfg[1])
		require.NoError(t, err)

		chunks := s.Split(text)
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), cfg[0])
			assert.Contains(t, text, c)
		}
		assert.True(t, strings.HasPrefix(text, chunks[0]))
	}
}

func TestSplit_Deterministic(t *testing.T) {
	s, err := NewTextSplitter(128, 32)
	require.NoError(t, err)

	text := sampleText()
	assert.Equal(t, s.Split(text), s.Split(text))
}

func TestSplit_CountsRunes(t *testing.T) {
	s, err := NewTextSplitter(10, 3)
	require.NoError(t, err)

	chunks := s.Split(strings.Repeat("é", 25))
	require.Len(t, chunks, 4)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
}

func TestSplit_InvalidUTF8(t *testing.T) {
	s, err := NewTextSplitter(10, 2)
	require.NoError(t, err)

	chunks := s.Split("ab\xffcd")
	assert.Equal(t, []string{"ab\uFFFDcd"}, chunks)
}
