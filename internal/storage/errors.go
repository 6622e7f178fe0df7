package storage

import "errors"

var (
	ErrNotFound           = errors.New("package not found")
	ErrUnsupportedBackend = errors.New("unsupported storage type")
)
