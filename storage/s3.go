package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Archive implements Archive for AWS S3
type S3Archive struct {
	client *s3.Client
	bucket string
}

// NewS3Archive creates a new S3 archive instance
func NewS3Archive(cfg ArchiveConfig) (*S3Archive, error) {
	ctx := context.Background()

	var awsCfg aws.Config
	var err error

	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		// Use explicit credentials
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AWSAccessKey,
				cfg.AWSSecretKey,
				"",
			)),
		)
	} else {
		// Use default credentials (from environment, IAM role, etc.)
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return &S3Archive{
		client: client,
		bucket: cfg.S3Bucket,
	}, nil
}

// Archive stores a finalized draft in S3
func (a *S3Archive) Archive(ctx context.Context, caseID, versionID uuid.UUID, content string) (string, error) {
	path := archivePath(caseID, versionID)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(path),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})

	if err != nil {
		return "", fmt.Errorf("failed to archive draft to S3: %w", err)
	}

	return path, nil
}

// Retrieve reads an archived draft from S3
func (a *S3Archive) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(path),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to retrieve draft from S3: %w", err)
	}

	return result.Body, nil
}
