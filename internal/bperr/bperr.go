// Package bperr defines the typed error taxonomy shared by every component
// of the runtime host: a stable Kind, a short content-derived ID for log
// correlation, and an unwrap chain back to the underlying cause.
package bperr

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
)

const idLength = 8

// Kind enumerates the error kinds surfaced verbatim to callers, per the
// error handling design.
type Kind string

// Error kinds.
const (
	KindDownloadFailed       Kind = "DownloadFailed"
	KindExtractFailed        Kind = "ExtractFailed"
	KindConfigurationFailed  Kind = "ConfigurationFailed"
	KindPipBootstrapFailed   Kind = "PipBootstrapFailed"
	KindVerificationFailed   Kind = "VerificationFailed"
	KindNotInitialized       Kind = "NotInitialized"
	KindSessionGone          Kind = "SessionGone"
	KindEnvGone              Kind = "EnvGone"
	KindPythonRaised         Kind = "PythonRaised"
	KindPackageInstallFailed Kind = "PackageInstallFailed"
	KindTimeout              Kind = "Timeout"
	KindCancelled            Kind = "Cancelled"
	KindAlreadyExists        Kind = "AlreadyExists"
	KindBaseRuntimeMissing   Kind = "BaseRuntimeMissing"
	KindCreateFailed         Kind = "CreateFailed"
	KindInUse                Kind = "InUse"
	KindInternal             Kind = "Internal"
)

// Error is a structured, identifiable error every component returns instead
// of an ad hoc formatted string.
type Error struct {
	Kind          Kind
	ID            string
	Message       string
	internalError error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (id: %s): %s", e.Kind, e.ID, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.internalError
}

// Is lets errors.Is match on Kind alone via a sentinel constructed by the
// same kind, e.g. errors.Is(err, bperr.New(bperr.KindTimeout, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	inner := fmt.Errorf(format, args...)
	return &Error{
		Kind:          kind,
		ID:            generateID(string(kind), inner.Error()),
		Message:       inner.Error(),
		internalError: inner,
	}
}

// Wrap constructs an Error of the given kind around an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return New(kind, format, args...)
	}
	msg := fmt.Sprintf(format, args...)
	inner := fmt.Errorf("%s: %w", msg, err)
	return &Error{
		Kind:          kind,
		ID:            generateID(string(kind), inner.Error()),
		Message:       inner.Error(),
		internalError: inner,
	}
}

// Internal constructs a KindInternal error, for invariant violations.
func Internal(format string, args ...any) *Error {
	return New(KindInternal, format, args...)
}

// Is reports whether err carries the given kind, anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if be, ok := err.(*Error); ok {
			if be.Kind == kind {
				return true
			}
			err = be.internalError
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func generateID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		io.WriteString(h, p)
	}
	sum := fmt.Sprintf("%x", h.Sum(nil))
	return strings.ToLower(sum[:idLength])
}
