package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalFileStorage implements the Storage interface for local filesystem
type LocalFileStorage struct {
	outputDir string
}

// NewLocalFileStorage creates a new local file storage instance
func NewLocalFileStorage(outputDir string) (*LocalFileStorage, error) {
	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", outputDir, err)
	}
	return &LocalFileStorage{outputDir: outputDir}, nil
}

// packagePath returns where the package for id lives
func (s *LocalFileStorage) packagePath(id string) string {
	return filepath.Join(s.outputDir, id+".ipa")
}

// SavePackage copies localPath into the output directory
func (s *LocalFileStorage) SavePackage(ctx context.Context, id, localPath string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer src.Close()

	dest := s.packagePath(id)
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to copy package: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move package into place: %w", err)
	}
	return dest, nil
}

// OpenPackage returns a reader for the stored package
func (s *LocalFileStorage) OpenPackage(ctx context.Context, id string) (io.ReadCloser, error) {
	f, err := os.Open(s.packagePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return f, nil
}

// DeletePackage removes the stored package, if any
func (s *LocalFileStorage) DeletePackage(ctx context.Context, id string) error {
	if err := os.Remove(s.packagePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove package %s: %w", id, err)
	}
	return nil
}

// PackageExists checks if a package is stored under id
func (s *LocalFileStorage) PackageExists(ctx context.Context, id string) bool {
	_, err := os.Stat(s.packagePath(id))
	return err == nil
}

func (s *LocalFileStorage) Close() error {
	return nil
}
