package server

import "github.com/jaki95/ipa-library/internal/activity"

// ActivitiesResponse is the full activity view, one section per category in
// display order.
type ActivitiesResponse struct {
	Sections []activity.Section `json:"sections"`
	Total    int                `json:"total"`
}

// AcceptedResponse is returned when an operation has been started.
type AcceptedResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// MessageResponse represents a generic message payload used for success responses.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents a generic error payload used for error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
