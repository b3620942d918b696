package client

import (
	"errors"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		errorClass ErrorClass
		expected   bool
	}{
		{ErrorClassClient, false},
		{ErrorClassAuth, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorClass), func(t *testing.T) {
			if got := shouldRetry(tt.errorClass); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{200, ""},
		{304, ""},
		{400, ErrorClassClient},
		{401, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.expected {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name: "with wrapped error",
			err: &APIError{
				StatusCode: 500,
				ErrorClass: ErrorClassServer,
				Endpoint:   "/skills/meta",
				Message:    "Internal Server Error",
				Err:        errors.New("connection reset"),
			},
			expected: "lightcast server error (status 500) /skills/meta: Internal Server Error: connection reset",
		},
		{
			name: "without wrapped error",
			err: &APIError{
				StatusCode: 404,
				ErrorClass: ErrorClassClient,
				Endpoint:   "/skills/versions/9.1/skills/KS0",
				Message:    "Skill not found",
			},
			expected: "lightcast client error (status 404) /skills/versions/9.1/skills/KS0: Skill not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	wrapped := errors.New("wrapped error")
	apiErr := &APIError{StatusCode: 500, ErrorClass: ErrorClassServer, Err: wrapped}

	if !errors.Is(apiErr, wrapped) {
		t.Error("errors.Is should work with wrapped error")
	}
	if (&APIError{}).Unwrap() != nil {
		t.Error("Unwrap() of empty APIError should be nil")
	}
}
