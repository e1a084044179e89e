package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileup/internal/config"
	"fileup/internal/file"
	"fileup/internal/server"
	"fileup/internal/storage"
	"fileup/internal/upload"
	"fileup/pkg/types"
)

var testLogger = slog.New(slog.DiscardHandler)

func newTransport(t *testing.T) *HTTPTransport {
	t.Helper()
	tr, err := NewHTTPTransport(0, testLogger)
	require.NoError(t, err)
	return tr
}

func newUploadServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := storage.NewDiskSink(dir, "", file.NewFileService())
	require.NoError(t, err)

	cfg := config.NewDefaultConfig().Server
	srv := httptest.NewServer(server.New(cfg, sink, testLogger).Handler())
	t.Cleanup(srv.Close)
	return srv, dir
}

func TestSubmit_AgainstServer(t *testing.T) {
	srv, dir := newUploadServer(t)
	tr := newTransport(t)

	files := []upload.File{
		upload.NewMemoryFile("skip.txt", "text/plain", []byte("not in this batch")),
		upload.NewMemoryFile("a.txt", "text/plain", []byte("alpha")),
		upload.NewMemoryFile("b.png", "image/png", []byte{0x89, 'P', 'N', 'G'}),
	}
	req := &upload.Request{
		Batch:     upload.Batch{Seq: 1, Offset: 1, Files: files[1:]},
		URL:       srv.URL + "/upload",
		Method:    http.MethodPost,
		ParamName: "files",
		Fields:    map[string]string{"b": "2", "a": "1"},
	}

	var mu sync.Mutex
	var loaded []int64
	var total int64
	resp, err := tr.Submit(context.Background(), req, func(l, tot int64) {
		mu.Lock()
		defer mu.Unlock()
		loaded = append(loaded, l)
		total = tot
	})

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))
	assert.True(t, resp.OK())

	var result types.UploadResult
	require.NoError(t, json.Unmarshal(resp.Body, &result))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, result.Fields)
	require.Len(t, result.Files, 2)
	assert.Equal(t, "files[1]", result.Files[0].Field)
	assert.Equal(t, "a.txt", result.Files[0].Name)
	assert.Equal(t, "text/plain", result.Files[0].ContentType)
	assert.Equal(t, "files[2]", result.Files[1].Field)
	assert.Equal(t, int64(4), result.Files[1].Size)

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(result.Files[0].Key)))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, loaded)
	assert.Equal(t, total, loaded[len(loaded)-1], "progress reaches the declared length")
	for i := 1; i < len(loaded); i++ {
		assert.GreaterOrEqual(t, loaded[i], loaded[i-1])
	}
}

// captured is what a recording server saw
type captured struct {
	header        http.Header
	contentLength int64
	parts         []string
	cookie        string
	bodyLen       int64
}

func recordingServer(t *testing.T) (*httptest.Server, func() captured) {
	t.Helper()
	var mu sync.Mutex
	var last captured

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{header: r.Header.Clone(), contentLength: r.ContentLength}
		if ck, err := r.Cookie("session"); err == nil {
			c.cookie = ck.Value
		}

		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err == nil {
			mr := multipart.NewReader(r.Body, params["boundary"])
			for {
				part, err := mr.NextPart()
				if err != nil {
					break
				}
				n, _ := io.Copy(io.Discard, part)
				c.bodyLen += n
				c.parts = append(c.parts, part.FormName()+"|"+part.FileName()+"|"+part.Header.Get("Content-Type"))
			}
		}

		mu.Lock()
		last = c
		mu.Unlock()

		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1", Path: "/"})
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	t.Cleanup(srv.Close)

	return srv, func() captured {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestSubmit_RequestShape(t *testing.T) {
	srv, last := recordingServer(t)
	tr := newTransport(t)

	req := &upload.Request{
		Batch: upload.Batch{Offset: 4, Files: []upload.File{
			upload.NewMemoryFile(`we"ird.bin`, "", []byte("xyz")),
		}},
		URL:       srv.URL,
		Method:    http.MethodPut,
		ParamName: "doc",
		Fields:    map[string]string{"z": "last", "k": "first"},
		Headers:   map[string]string{"Authorization": "Bearer t", "X-Requested-With": "fileup"},
		Rename:    func(name string) (string, bool) { return "renamed.bin", true },
	}

	resp, err := tr.Submit(context.Background(), req, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "201 Created", resp.Status)
	assert.Equal(t, "created", string(resp.Body))

	c := last()
	assert.Equal(t, "Bearer t", c.header.Get("Authorization"))
	assert.Equal(t, "fileup", c.header.Get("X-Requested-With"), "configured headers win")
	assert.Equal(t, []string{
		"k||",
		"z||",
		"doc[4]|renamed.bin|application/octet-stream",
	}, c.parts)
	assert.Greater(t, c.contentLength, int64(0))
	assert.Equal(t, int64(len("first")+len("last")+len("xyz")), c.bodyLen)
}

func TestSubmit_DefaultHeaderAndCredentials(t *testing.T) {
	srv, last := recordingServer(t)
	tr := newTransport(t)
	req := func(withCredentials bool) *upload.Request {
		return &upload.Request{
			Batch:           upload.Batch{Files: []upload.File{upload.NewMemoryFile("a", "text/plain", []byte("a"))}},
			URL:             srv.URL,
			Method:          http.MethodPost,
			ParamName:       "files",
			WithCredentials: withCredentials,
		}
	}

	_, err := tr.Submit(context.Background(), req(true), nil)
	require.NoError(t, err)
	assert.Equal(t, "XMLHttpRequest", last().header.Get("X-Requested-With"))
	assert.Empty(t, last().cookie)

	_, err = tr.Submit(context.Background(), req(true), nil)
	require.NoError(t, err)
	assert.Equal(t, "s1", last().cookie, "credentialed requests replay cookies")

	_, err = tr.Submit(context.Background(), req(false), nil)
	require.NoError(t, err)
	assert.Empty(t, last().cookie, "requests without credentials carry no cookies")
}

func TestSubmit_Errors(t *testing.T) {
	tr := newTransport(t)

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := tr.Submit(context.Background(), &upload.Request{URL: url, Method: http.MethodPost, ParamName: "files"}, nil)

		assert.ErrorContains(t, err, "failed to send batch")
	})

	t.Run("non-2xx is a response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer srv.Close()

		resp, err := tr.Submit(context.Background(), &upload.Request{URL: srv.URL, Method: http.MethodPost, ParamName: "files"}, nil)

		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.False(t, resp.OK())
	})

	t.Run("short file", func(t *testing.T) {
		srv, _ := recordingServer(t)
		short := &lyingFile{MemoryFile: upload.NewMemoryFile("short", "", []byte("ab")), size: 10}

		_, err := tr.Submit(context.Background(), &upload.Request{
			Batch:     upload.Batch{Files: []upload.File{short}},
			URL:       srv.URL,
			Method:    http.MethodPost,
			ParamName: "files",
		}, nil)

		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		srv, _ := recordingServer(t)

		_, err := tr.Submit(ctx, &upload.Request{URL: srv.URL, Method: http.MethodPost, ParamName: "files"}, nil)

		assert.True(t, errors.Is(err, context.Canceled))
	})
}

// lyingFile declares more bytes than it holds
type lyingFile struct {
	*upload.MemoryFile
	size int64
}

func (l *lyingFile) Size() int64 { return l.size }

func TestMultipartLength(t *testing.T) {
	req := &upload.Request{
		Batch: upload.Batch{Files: []upload.File{
			upload.NewMemoryFile("a.txt", "text/plain", []byte("hello")),
			upload.NewMemoryFile("b.txt", "", nil),
		}},
		ParamName: "files",
		Fields:    map[string]string{"k": "v"},
	}
	body := newMultipartBody(req)

	length, err := body.length()
	require.NoError(t, err)

	counter := &countingWriter{}
	require.NoError(t, body.writeTo(counter))
	assert.Equal(t, counter.n, length)
}
