package service

import (
	"strings"
	"unicode/utf8"

	"github.com/tieubaoca/docrag/types"
)

// Separators tried in order, coarsest first. The empty separator cuts
// between single runes.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// TextSplitter cuts text into overlapping windows of at most chunkSize
// runes, preferring paragraph, line, sentence and word boundaries.
type TextSplitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

func NewTextSplitter(chunkSize, chunkOverlap int) (*TextSplitter, error) {
	if chunkSize <= 0 {
		return nil, types.NewValidationError("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, types.NewValidationError("chunk overlap must not be negative, got %d", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, types.NewValidationError("chunk overlap (%d) must be smaller than chunk size (%d)", chunkOverlap, chunkSize)
	}
	return &TextSplitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}, nil
}

func (s *TextSplitter) ChunkSize() int    { return s.chunkSize }
func (s *TextSplitter) ChunkOverlap() int { return s.chunkOverlap }

// Split returns the chunks of text in document order. Every chunk is a
// substring of text with surrounding whitespace trimmed.
func (s *TextSplitter) Split(text string) []string {
	text = strings.ToValidUTF8(text, "\uFFFD")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	for _, c := range s.split(text, s.separators) {
		c = strings.TrimSpace(c)
		if c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func (s *TextSplitter) split(text string, separators []string) []string {
	separator := ""
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var final, fitting []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) <= s.chunkSize {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			final = append(final, s.merge(fitting)...)
			fitting = nil
		}
		final = append(final, s.split(piece, rest)...)
	}
	if len(fitting) > 0 {
		final = append(final, s.merge(fitting)...)
	}
	return final
}

// merge joins consecutive pieces into windows no longer than chunkSize,
// carrying at most chunkOverlap runes of trailing pieces into the next one.
func (s *TextSplitter) merge(pieces []string) []string {
	var (
		windows []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.chunkSize && len(current) > 0 {
			windows = append(windows, strings.Join(current, ""))
			for len(current) > 0 && (total > s.chunkOverlap || total+n > s.chunkSize) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if len(current) > 0 {
		windows = append(windows, strings.Join(current, ""))
	}
	return windows
}

func splitKeepSeparator(text, separator string) []string {
	if separator == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	pieces := strings.SplitAfter(text, separator)
	if n := len(pieces); n > 0 && pieces[n-1] == "" {
		pieces = pieces[:n-1]
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
