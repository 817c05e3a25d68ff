package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// Archive stores finalized petition drafts outside the database. Drafts are
// keyed by case and version; archived content is immutable.
type Archive interface {
	// Archive stores a finalized draft and returns the archive path
	Archive(ctx context.Context, caseID, versionID uuid.UUID, content string) (string, error)

	// Retrieve reads an archived draft by archive path
	Retrieve(ctx context.Context, archivePath string) (io.ReadCloser, error)
}

// ArchiveType represents the archive backend type
type ArchiveType string

const (
	ArchiveTypeLocal ArchiveType = "local"
	ArchiveTypeS3    ArchiveType = "s3"
)

// ArchiveConfig holds configuration for the archive backend
type ArchiveConfig struct {
	Type         ArchiveType
	LocalPath    string // For local archive
	S3Bucket     string // For S3 archive
	S3Region     string // For S3 archive
	AWSAccessKey string
	AWSSecretKey string
}

// NewArchive creates an archive instance based on configuration
func NewArchive(cfg ArchiveConfig) (Archive, error) {
	switch cfg.Type {
	case ArchiveTypeLocal:
		return NewLocalArchive(cfg.LocalPath)
	case ArchiveTypeS3:
		return NewS3Archive(cfg)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}

// NewArchiveFromEnv creates an archive instance from environment variables
func NewArchiveFromEnv() (Archive, error) {
	archiveType := os.Getenv("ARCHIVE_TYPE")
	if archiveType == "" {
		archiveType = "local" // Default to local for development
	}

	cfg := ArchiveConfig{
		Type: ArchiveType(archiveType),
	}

	switch ArchiveType(archiveType) {
	case ArchiveTypeLocal:
		localPath := os.Getenv("ARCHIVE_LOCAL_PATH")
		if localPath == "" {
			localPath = "./storage/drafts"
		}
		cfg.LocalPath = localPath
		return NewLocalArchive(cfg.LocalPath)

	case ArchiveTypeS3:
		cfg.S3Bucket = os.Getenv("AWS_S3_BUCKET")
		cfg.S3Region = os.Getenv("AWS_REGION")
		if cfg.S3Region == "" {
			cfg.S3Region = "us-east-1"
		}
		cfg.AWSAccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		cfg.AWSSecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")

		if cfg.S3Bucket == "" {
			return nil, errors.New("AWS_S3_BUCKET environment variable is required for S3 archive")
		}

		return NewS3Archive(cfg)

	default:
		return nil, fmt.Errorf("unknown archive type: %s", archiveType)
	}
}

// archivePath builds the archive key for a finalized draft. The case ID
// prefix groups all versions of one case together.
func archivePath(caseID, versionID uuid.UUID) string {
	return fmt.Sprintf("cases/%s/final_%s.txt", caseID, versionID)
}
