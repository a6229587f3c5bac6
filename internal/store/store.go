// Package store abstracts the object storage that holds the blank return
// template and, optionally, completed output documents.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Store reads and writes objects by key.
type Store interface {
	// Get returns the object bytes for key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key and returns a reference (URL or path) to
	// the stored object.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Type selects the storage backend.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// Config holds backend selection and credentials.
type Config struct {
	Type Type

	LocalPath string

	S3Bucket     string
	S3Region     string
	AWSAccessKey string
	AWSSecretKey string
}

// New creates a store for the configured backend.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeLocal:
		return NewLocal(cfg.LocalPath)
	case TypeS3:
		return NewS3(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
