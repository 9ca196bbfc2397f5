package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tieubaoca/docrag/types"
)

var pagesPattern = regexp.MustCompile(`Pages:\s+(\d+)`)

var multiSpace = regexp.MustCompile(` {2,}`)

var pdfCleaner = strings.NewReplacer(
	"\u0000", "", // Null character
	"\uFFFD", "", // Unicode replacement character
	"\u001b", "", // Escape character
	"\r", "",
	"\f", "\n", // Page break
	"\uF8FF", "", // Apple logo
	"‡", "",
	"†", "",
)

type PDFConfig struct {
	OCR          bool
	OCRLanguages string
}

// PDFService extracts PDF text with pdftotext, falling back to tesseract
// OCR for scanned files when enabled.
type PDFService struct {
	runner CommandRunner
	config PDFConfig
}

func NewPDFService(config PDFConfig, runner CommandRunner) *PDFService {
	if runner == nil {
		runner = execRunner{}
	}
	if config.OCRLanguages == "" {
		config.OCRLanguages = "eng"
	}
	return &PDFService{runner: runner, config: config}
}

// Extract returns the text of every page in page order.
func (s *PDFService) Extract(ctx context.Context, path string) (*Extraction, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &types.ExtractionError{FileType: types.FileTypePDF, Err: err}
	}

	out, err := s.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return nil, &types.ExtractionError{FileType: types.FileTypePDF, Err: err}
	}
	text := cleanText(string(out))

	if text == "" && s.config.OCR {
		zap.S().Infof("No text layer in %s, trying OCR", filepath.Base(path))
		text, err = s.extractWithOCR(ctx, path)
		if err != nil {
			return nil, &types.ExtractionError{FileType: types.FileTypePDF, Err: err}
		}
	}

	return &Extraction{Text: text}, nil
}

func (s *PDFService) extractWithOCR(ctx context.Context, path string) (string, error) {
	totalPages, err := s.numPages(ctx, path)
	if err != nil {
		return "", err
	}

	tempFolder, err := os.MkdirTemp("", "docrag-ocr-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempFolder)

	pages := make([]string, 0, totalPages)
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		text, err := s.ocrPage(ctx, path, tempFolder, pageNum)
		if err != nil {
			zap.S().Warnf("OCR failed for page %d of %s: %v", pageNum, filepath.Base(path), err)
			continue
		}
		pages = append(pages, text)
	}
	return cleanText(strings.Join(pages, "\n")), nil
}

func (s *PDFService) ocrPage(ctx context.Context, path, tempFolder string, pageNum int) (string, error) {
	page := strconv.Itoa(pageNum)
	prefix := filepath.Join(tempFolder, "page-"+page)
	if _, err := s.runner.Run(ctx, "pdftoppm", "-f", page, "-l", page, "-png", "-singlefile", path, prefix); err != nil {
		return "", err
	}
	out, err := s.runner.Run(ctx, "tesseract", prefix+".png", "stdout",
		"-l", s.config.OCRLanguages,
		"--oem", "3", // LSTM engine
		"--psm", "3",
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// numPages reads the page count reported by pdfinfo.
func (s *PDFService) numPages(ctx context.Context, path string) (int, error) {
	out, err := s.runner.Run(ctx, "pdfinfo", path)
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if matches := pagesPattern.FindStringSubmatch(scanner.Text()); len(matches) == 2 {
			return strconv.Atoi(matches[1])
		}
	}
	return 0, errors.New("unable to determine page count from pdfinfo")
}

func cleanText(text string) string {
	cleaned := pdfCleaner.Replace(text)
	cleaned = multiSpace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}
