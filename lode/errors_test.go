package lode

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		errMsg   string
		wantKind error
	}{
		{"context deadline exceeded", "context deadline exceeded", ErrTimeout},
		{"timeout in message", "connection timeout after 30s", ErrTimeout},
		{"AccessDenied response", "AccessDenied: you do not have access", ErrAccessDenied},
		{"HTTP 403", "received status 403", ErrAccessDenied},
		{"permission denied", "open /data/sessions: permission denied", ErrPermissionDenied},
		{"no space left", "write /data/sessions: no space left on device", ErrDiskFull},
		{"quota exceeded", "quota exceeded for user", ErrDiskFull},
		{"no such file", "no such file or directory", ErrNotFound},
		{"NoSuchKey S3", "NoSuchKey: The specified key does not exist", ErrNotFound},
		{"SlowDown S3", "SlowDown: please reduce request rate", ErrThrottled},
		{"HTTP 429", "received status 429", ErrThrottled},
		{"NoCredentialProviders", "NoCredentialProviders: no valid credential providers", ErrAuth},
		{"ExpiredToken", "ExpiredToken: the security token has expired", ErrAuth},
		{"connection refused", "dial tcp 127.0.0.1:9000: connection refused", ErrNetwork},
		{"unrecognized", "something completely unexpected happened", ErrUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(errors.New(tt.errMsg))
			if !errors.Is(got, tt.wantKind) {
				t.Errorf("classifyError(%q) = %v, want %v", tt.errMsg, got, tt.wantKind)
			}
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := classifyError(nil); got != nil {
		t.Errorf("classifyError(nil) = %v, want nil", got)
	}
}

func TestWrapWriteError(t *testing.T) {
	if WrapWriteError(nil, "x") != nil {
		t.Error("WrapWriteError(nil) should be nil")
	}

	_, openErr := os.Open("/definitely/missing/segment.jsonl")
	err := WrapWriteError(openErr, "openhrv/session")

	if !errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(err, ErrNotFound) = false for %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("underlying error should stay in the chain")
	}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("errors.As(*StorageError) failed for %T", err)
	}
	if se.Op != "write" || se.Path != "openhrv/session" {
		t.Errorf("StorageError = %+v", se)
	}
	if !strings.Contains(err.Error(), "write openhrv/session") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapInitError_NoPath(t *testing.T) {
	err := NewStorageError(ErrAuth, "init", "", errors.New("expired"))
	if got := err.Error(); got != "init: authentication failed: expired" {
		t.Errorf("Error() = %q", got)
	}
}
