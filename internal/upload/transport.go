package upload

import (
	"context"
	"net/http"
)

// ProgressFunc receives raw byte progress for one request.
// total <= 0 means the request length is unknown.
type ProgressFunc func(loaded, total int64)

// Request describes one batch submission.
type Request struct {
	Batch           Batch
	URL             string
	Method          string
	Headers         map[string]string
	WithCredentials bool
	ParamName       string
	Fields          map[string]string

	// Rename rewrites a submitted file name; ok is false to keep the original.
	Rename func(name string) (renamed string, ok bool)
}

// FileName returns the name f should be submitted under
func (r *Request) FileName(f File) string {
	if r.Rename != nil {
		if name, ok := r.Rename(f.Name()); ok && name != "" {
			return name
		}
	}
	return f.Name()
}

// Response is the transport's answer for a batch.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// OK reports whether StatusCode is in [200, 299]
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Transport submits batches. Submit blocks until the batch resolved; a
// returned error is a transport-level failure, a non-2xx response is not.
// progress may be called from any goroutine until Submit returns.
type Transport interface {
	Submit(ctx context.Context, req *Request, progress ProgressFunc) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request, progress ProgressFunc) (*Response, error)

func (f TransportFunc) Submit(ctx context.Context, req *Request, progress ProgressFunc) (*Response, error) {
	return f(ctx, req, progress)
}
