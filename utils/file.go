package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// StageUpload writes r into uploadDir under a unique name derived from
// filename and returns the staged path. The extension is preserved so the
// staged file can still be routed by format.
func StageUpload(r io.Reader, uploadDir, filename string) (string, error) {
	// Create upload directory if it doesn't exist
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	originalName := filepath.Base(filename)
	ext := filepath.Ext(originalName)
	baseFileName := strings.TrimSuffix(originalName, ext)
	destFileName := fmt.Sprintf("%s_%s%s", baseFileName, uuid.NewString(), ext)
	destPath := filepath.Join(uploadDir, destFileName)

	destFile, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(destFile, r); err != nil {
		destFile.Close()
		os.Remove(destPath)
		return "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := destFile.Close(); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("failed to close destination file: %w", err)
	}

	return destPath, nil
}
