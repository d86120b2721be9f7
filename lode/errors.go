package lode

import (
	"errors"
	"fmt"
	"strings"
)

// Storage failure kinds. Match them with errors.Is on any error returned
// by this package.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	// ErrAuth is a credential failure: missing, invalid or expired.
	ErrAuth = errors.New("authentication failed")
	// ErrAccessDenied is an authorization failure with valid credentials.
	ErrAccessDenied = errors.New("access denied")
	ErrNetwork      = errors.New("network error")
	// ErrUnclassified is the kind of storage errors matching no other class.
	ErrUnclassified = errors.New("storage error")
)

// StorageError is a classified storage failure. The cause stays in the
// chain, so errors.Is(err, os.ErrNotExist) still works.
type StorageError struct {
	// Kind is one of the Err* kinds above.
	Kind error
	// Op is "init", "read" or "write".
	Op string
	// Path is the dataset or object path, if any.
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches the error's kind.
func (e *StorageError) Is(target error) bool { return errors.Is(e.Kind, target) }

// NewStorageError creates a storage error of the given kind.
func NewStorageError(kind error, op, path string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Path: path, Err: err}
}

// WrapWriteError classifies a failed segment or file write. Nil stays nil.
func WrapWriteError(err error, path string) error { return wrap("write", path, err) }

// WrapReadError classifies a failed snapshot read. Nil stays nil.
func WrapReadError(err error, path string) error { return wrap("read", path, err) }

// WrapInitError classifies a failed store or dataset setup. Nil stays nil.
func WrapInitError(err error, dataset string) error { return wrap("init", dataset, err) }

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), op, path, err)
}

// classifyRules are tried in order against the lowercased message.
// Access denial comes before the generic permission rule so S3 403s are
// not reported as local permission problems.
var classifyRules = []struct {
	kind    error
	needles []string
}{
	{ErrAccessDenied, []string{"accessdenied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces", "access denied"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid",
		"signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable",
		"dns", "dial tcp"}},
}

// classifyError maps err to a storage kind. Errors reporting Timeout()
// win over message matching.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.kind
			}
		}
	}
	return ErrUnclassified
}
