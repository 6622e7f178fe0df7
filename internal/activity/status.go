package activity

import "fmt"

// Kind is a lifecycle state of a tracked operation.
type Kind string

const (
	KindWaiting     Kind = "waiting"
	KindDownloading Kind = "downloading"
	KindExtracting  Kind = "extracting"
	KindSigning     Kind = "signing"
	KindModifying   Kind = "modifying"
	KindInstalling  Kind = "installing"
	KindCompleted   Kind = "completed"
	KindFailed      Kind = "failed"
)

// Status is a Kind plus the error message carried by the failed state.
type Status struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
}

// Convenience constructors for the non-failure states.
var (
	Waiting     = Status{Kind: KindWaiting}
	Downloading = Status{Kind: KindDownloading}
	Extracting  = Status{Kind: KindExtracting}
	Signing     = Status{Kind: KindSigning}
	Modifying   = Status{Kind: KindModifying}
	Installing  = Status{Kind: KindInstalling}
	Completed   = Status{Kind: KindCompleted}
)

// Failed returns the failed status carrying msg.
func Failed(msg string) Status {
	return Status{Kind: KindFailed, Message: msg}
}

// IsTerminal reports whether s is completed or failed.
func (s Status) IsTerminal() bool {
	return s.Kind == KindCompleted || s.Kind == KindFailed
}

func (s Status) String() string {
	if s.Kind == KindFailed && s.Message != "" {
		return fmt.Sprintf("%s: %s", s.Kind, s.Message)
	}
	return string(s.Kind)
}
