package download

import "errors"

var (
	ErrEmptyURL   = errors.New("download url is required")
	ErrEmptyFile  = errors.New("downloaded file is empty")
	ErrNotRunning = errors.New("download not running")
)
