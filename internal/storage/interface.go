package storage

import (
	"context"
	"io"
)

// Storage keeps the original package files of library apps.
type Storage interface {
	// SavePackage copies the local file at localPath under id and returns
	// the location it was stored at.
	SavePackage(ctx context.Context, id, localPath string) (string, error)

	OpenPackage(ctx context.Context, id string) (io.ReadCloser, error)

	DeletePackage(ctx context.Context, id string) error

	PackageExists(ctx context.Context, id string) bool

	Close() error
}
