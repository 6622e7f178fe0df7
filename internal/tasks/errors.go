package tasks

import "errors"

var (
	ErrNotRunning     = errors.New("task not running")
	ErrAlreadyRunning = errors.New("task already running")
	ErrNoSigner       = errors.New("no signer configured")
	ErrSignerCommand  = errors.New("signer command failed")
	ErrNotSigned      = errors.New("app is not signed")
)
