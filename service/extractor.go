package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/tieubaoca/docrag/types"
)

// Extraction is the plain text of a file plus, for JSON, its parsed value
// and derived aggregation metadata.
type Extraction struct {
	Text           string
	StructuredData any
	Aggregation    *types.AggregationMetadata
}

type Extractor interface {
	Extract(ctx context.Context, path string) (*Extraction, error)
}

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Extractors routes a file type to its extractor.
type Extractors struct {
	byType map[string]Extractor
}

func NewExtractors(pdf *PDFService) *Extractors {
	return &Extractors{
		byType: map[string]Extractor{
			types.FileTypePDF:  pdf,
			types.FileTypeDOCX: DocxExtractor{},
			types.FileTypeTXT:  TextExtractor{},
			types.FileTypeJSON: JSONExtractor{},
		},
	}
}

// Register replaces the extractor used for fileType.
func (e *Extractors) Register(fileType string, extractor Extractor) {
	e.byType[fileType] = extractor
}

func (e *Extractors) ExtractorFor(fileType string) (Extractor, error) {
	extractor, ok := e.byType[fileType]
	if !ok {
		return nil, types.NewUnsupportedFormatError(fileType)
	}
	return extractor, nil
}

// TextExtractor reads plain text, replacing invalid UTF-8 sequences.
type TextExtractor struct{}

func (TextExtractor) Extract(_ context.Context, path string) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ExtractionError{FileType: types.FileTypeTXT, Err: err}
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return &Extraction{Text: strings.ToValidUTF8(string(data), "\uFFFD")}, nil
}
