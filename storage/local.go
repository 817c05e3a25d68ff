package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalArchive implements Archive for the local filesystem
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a new local archive instance
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &LocalArchive{
		basePath: basePath,
	}, nil
}

// Archive stores a finalized draft on disk
func (a *LocalArchive) Archive(ctx context.Context, caseID, versionID uuid.UUID, content string) (string, error) {
	path := archivePath(caseID, versionID)
	fullPath := filepath.Join(a.basePath, path)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create case directory: %w", err)
	}

	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write draft: %w", err)
	}

	return path, nil
}

// Retrieve reads an archived draft from disk
func (a *LocalArchive) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath := filepath.Join(a.basePath, path)

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archived draft not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open archived draft: %w", err)
	}

	return file, nil
}
