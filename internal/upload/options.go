package upload

import (
	"errors"
	"net/http"
	"time"
)

var (
	ErrMissingURL         = errors.New("upload url must be set")
	ErrInvalidParamName   = errors.New("param name must not be empty")
	ErrInvalidMaxFiles    = errors.New("max files must not be negative")
	ErrInvalidBatchSize   = errors.New("max files per request must not be negative")
	ErrInvalidConcurrency = errors.New("max concurrent requests must not be negative")
	ErrInvalidRefresh     = errors.New("refresh interval must not be negative")
	ErrInvalidMaxFileSize = errors.New("max file size must not be negative")
	ErrMissingTransport   = errors.New("transport must be set")
)

// Options configures an Uploader.
type Options struct {
	// URL is the request target. URLFunc, when set, is evaluated per batch
	// and takes precedence.
	URL     string
	URLFunc func() string

	Method          string
	WithCredentials bool
	ParamName       string
	Fields          map[string]string
	Headers         map[string]string

	MaxFiles           int
	MaxFileSize        int64
	EnforceMaxFileSize bool
	AllowedExtensions  []string
	AllowedTypes       []string

	// MaxFilesPerRequest is the batch size; 0 sends every file in one request.
	MaxFilesPerRequest int

	// MaxConcurrentRequests bounds in-flight batches; 0 means no bound.
	MaxConcurrentRequests int

	// Refresh is the minimum interval between throughput samples.
	Refresh time.Duration

	// LazyLoad stages validated files without starting an upload.
	LazyLoad bool
}

// DefaultOptions returns options with the stock defaults
func DefaultOptions() Options {
	return Options{
		Method:                http.MethodPost,
		ParamName:             "files",
		Fields:                map[string]string{},
		Headers:               map[string]string{},
		MaxFiles:              25,
		MaxFileSize:           1 << 20,
		MaxFilesPerRequest:    1,
		MaxConcurrentRequests: 1,
		Refresh:               time.Second,
	}
}

// Validate ensures the options are usable
func (o *Options) Validate() error {
	if o.URL == "" && o.URLFunc == nil {
		return ErrMissingURL
	}
	if o.ParamName == "" {
		return ErrInvalidParamName
	}
	if o.MaxFiles < 0 {
		return ErrInvalidMaxFiles
	}
	if o.MaxFileSize < 0 {
		return ErrInvalidMaxFileSize
	}
	if o.MaxFilesPerRequest < 0 {
		return ErrInvalidBatchSize
	}
	if o.MaxConcurrentRequests < 0 {
		return ErrInvalidConcurrency
	}
	if o.Refresh < 0 {
		return ErrInvalidRefresh
	}
	return nil
}

func (o *Options) resolveURL() string {
	if o.URLFunc != nil {
		return o.URLFunc()
	}
	return o.URL
}

func (o *Options) method() string {
	if o.Method == "" {
		return http.MethodPost
	}
	return o.Method
}
