package fetch

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FetchError
		want string
	}{
		{
			name: "without wrapped error",
			err:  &FetchError{Key: "json/home", StatusCode: 503, ErrorClass: ErrorClassServer, Message: "503 Service Unavailable"},
			want: "fetch json/home: server error (status 503): 503 Service Unavailable",
		},
		{
			name: "with wrapped error",
			err:  &FetchError{Key: "json/home", ErrorClass: ErrorClassNetwork, Message: "request failed", Err: errors.New("connection refused")},
			want: "fetch json/home: network error (status 0): request failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := fmt.Errorf("outer: %w", &FetchError{Err: inner})

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassNetwork, true},
		{ErrorClassDecode, false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.want {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}

func TestErrNotFoundWrapping(t *testing.T) {
	err := fmt.Errorf("%s: %w", "json/home", ErrNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Error("wrapped ErrNotFound should match")
	}
	if !strings.Contains(err.Error(), "json/home") {
		t.Errorf("error %q should name the key", err)
	}
}
