package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fileup/internal/upload"
)

const tracerName = "fileup/transport"

// HTTPTransport submits batches as multipart/form-data requests
type HTTPTransport struct {
	client     *http.Client
	credClient *http.Client
	jar        http.CookieJar
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewHTTPTransport creates a transport whose requests time out after
// timeout (0 disables it). Requests with credentials share one cookie jar.
func NewHTTPTransport(timeout time.Duration, logger *slog.Logger) (*HTTPTransport, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &HTTPTransport{
		client:     &http.Client{Timeout: timeout},
		credClient: &http.Client{Timeout: timeout, Jar: jar},
		jar:        jar,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}, nil
}

// Jar returns the cookie jar used for requests with credentials
func (t *HTTPTransport) Jar() http.CookieJar {
	return t.jar
}

func (t *HTTPTransport) Submit(ctx context.Context, req *upload.Request, progress upload.ProgressFunc) (*upload.Response, error) {
	ctx, span := t.tracer.Start(ctx, "fileup.upload.batch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("fileup.batch.seq", req.Batch.Seq),
			attribute.Int("fileup.batch.files", len(req.Batch.Files)),
			attribute.Int64("fileup.batch.bytes", req.Batch.Bytes()),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL),
		),
	)
	defer span.End()

	resp, err := t.submit(ctx, req, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if !resp.OK() {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}

func (t *HTTPTransport) submit(ctx context.Context, req *upload.Request, progress upload.ProgressFunc) (*upload.Response, error) {
	body := newMultipartBody(req)
	length, err := body.length()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	go func() {
		pw.CloseWithError(body.writeTo(pw))
	}()

	var reader io.Reader = pr
	if progress != nil {
		reader = &progressReader{r: pr, total: length, fn: progress}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.ContentLength = length
	httpReq.Header.Set("Content-Type", body.contentType())
	httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := t.client
	if req.WithCredentials {
		client = t.credClient
	}

	t.logger.Debug("Sending batch", "batch", req.Batch.Seq, "url", req.URL, "bytes", length)
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send batch %d: %w", req.Batch.Seq, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response of batch %d: %w", req.Batch.Seq, err)
	}

	return &upload.Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// multipartBody writes the form of one request. The same boundary is used
// for the length dry run and the real body.
type multipartBody struct {
	req      *upload.Request
	boundary string
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func newMultipartBody(req *upload.Request) *multipartBody {
	return &multipartBody{req: req, boundary: multipart.NewWriter(io.Discard).Boundary()}
}

func (b *multipartBody) contentType() string {
	return "multipart/form-data; boundary=" + b.boundary
}

// length returns the exact body size: the envelope plus every file size
func (b *multipartBody) length() (int64, error) {
	counter := &countingWriter{}
	if err := b.write(counter, false); err != nil {
		return 0, err
	}
	return counter.n + b.req.Batch.Bytes(), nil
}

func (b *multipartBody) writeTo(w io.Writer) error {
	return b.write(w, true)
}

func (b *multipartBody) write(w io.Writer, withContent bool) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(b.boundary); err != nil {
		return fmt.Errorf("failed to set boundary: %w", err)
	}

	keys := make([]string, 0, len(b.req.Fields))
	for k := range b.req.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, b.req.Fields[k]); err != nil {
			return fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	batch := b.req.Batch
	for i, f := range batch.Files {
		field := fmt.Sprintf("%s[%d]", b.req.ParamName, batch.Index(i))
		part, err := mw.CreatePart(fileHeader(field, b.req.FileName(f), f.MimeType()))
		if err != nil {
			return fmt.Errorf("failed to create part for %s: %w", f.Name(), err)
		}
		if !withContent {
			continue
		}
		if err := copyFile(part, f); err != nil {
			return err
		}
	}

	return mw.Close()
}

func fileHeader(field, filename, mimeType string) textproto.MIMEHeader {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", mimeType)
	return h
}

// copyFile writes exactly f.Size() bytes of f, so the declared length holds
func copyFile(w io.Writer, f upload.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name(), err)
	}
	defer rc.Close()

	size := max(f.Size(), 0)
	n, err := io.Copy(w, io.LimitReader(rc, size))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name(), err)
	}
	if n != size {
		return fmt.Errorf("failed to read %s: got %d of %d bytes", f.Name(), n, size)
	}
	return nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// progressReader reports how much of the body the client consumed
type progressReader struct {
	r      io.Reader
	loaded int64
	total  int64
	fn     upload.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		p.fn(p.loaded, p.total)
	}
	return n, err
}
