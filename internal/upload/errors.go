package upload

import (
	"errors"
	"fmt"
)

// Kind classifies an upload error.
type Kind int

const (
	KindUnknown Kind = iota
	KindBrowserNotSupported
	KindTooManyFiles
	KindFileTooLarge
	KindFileTypeNotAllowed
	KindFileExtensionNotAllowed
	KindNotFound
	KindNotReadable
	KindAbort
	KindReadError
	KindHTTPStatus
	KindTransport
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindBrowserNotSupported:
		return "BrowserNotSupported"
	case KindTooManyFiles:
		return "TooManyFiles"
	case KindFileTooLarge:
		return "FileTooLarge"
	case KindFileTypeNotAllowed:
		return "FileTypeNotAllowed"
	case KindFileExtensionNotAllowed:
		return "FileExtensionNotAllowed"
	case KindNotFound:
		return "NotFound"
	case KindNotReadable:
		return "NotReadable"
	case KindAbort:
		return "AbortError"
	case KindReadError:
		return "ReadError"
	case KindHTTPStatus:
		return "HTTPStatus"
	case KindTransport:
		return "Transport"
	default:
		return "Unknown"
	}
}

var (
	ErrBrowserNotSupported     = errors.New("file list could not be read")
	ErrTooManyFiles            = errors.New("too many files")
	ErrFileTooLarge            = errors.New("file too large")
	ErrFileTypeNotAllowed      = errors.New("file type not allowed")
	ErrFileExtensionNotAllowed = errors.New("file extension not allowed")
	ErrNotFound                = errors.New("no files to upload")
	ErrNotReadable             = errors.New("file not readable")
	ErrAborted                 = errors.New("upload aborted")
	ErrRead                    = errors.New("file read error")
	ErrHTTPStatus              = errors.New("unexpected http status")
	ErrTransport               = errors.New("transport failure")
)

var kindSentinels = map[Kind]error{
	KindBrowserNotSupported:     ErrBrowserNotSupported,
	KindTooManyFiles:            ErrTooManyFiles,
	KindFileTooLarge:            ErrFileTooLarge,
	KindFileTypeNotAllowed:      ErrFileTypeNotAllowed,
	KindFileExtensionNotAllowed: ErrFileExtensionNotAllowed,
	KindNotFound:                ErrNotFound,
	KindNotReadable:             ErrNotReadable,
	KindAbort:                   ErrAborted,
	KindReadError:               ErrRead,
	KindHTTPStatus:              ErrHTTPStatus,
	KindTransport:               ErrTransport,
}

// Error is the error value handed to the Error hook and returned from
// Validate and Upload. Batch is -1 when the error is not tied to a batch.
type Error struct {
	Kind  Kind
	File  File
	Batch int

	// Set for KindHTTPStatus.
	StatusCode int
	Status     string
	Response   *Response

	Err error
}

// NewError creates an Error of kind that is not tied to a batch
func NewError(kind Kind, file File, cause error) *Error {
	return &Error{Kind: kind, File: file, Batch: -1, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		msg = sentinel.Error()
	}
	if e.Kind == KindHTTPStatus {
		msg = fmt.Sprintf("%s %d", msg, e.StatusCode)
		if e.Status != "" {
			msg = fmt.Sprintf("%s (%s)", msg, e.Status)
		}
	}
	if e.Batch >= 0 {
		msg = fmt.Sprintf("batch %d: %s", e.Batch, msg)
	}
	if e.File != nil {
		msg = fmt.Sprintf("%s: %s", e.File.Name(), msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindUnknown
}
