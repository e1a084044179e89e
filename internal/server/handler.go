package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fileup/internal/storage"
	"fileup/pkg/types"
)

// maxFieldBytes bounds a single plain form field
const maxFieldBytes = 1 << 20

var (
	errNotMultipart = errors.New("request is not multipart/form-data")
	errMalformed    = errors.New("malformed multipart body")
)

// UploadHandler stores the files of a multipart upload request in a sink
type UploadHandler struct {
	sink      storage.Sink
	paramName string
	maxBytes  int64
	metrics   *Metrics
	logger    *slog.Logger
}

// NewUploadHandler creates a handler accepting file parts named paramName
// or paramName[...]. maxBytes <= 0 disables the body limit.
func NewUploadHandler(sink storage.Sink, paramName string, maxBytes int64, metrics *Metrics, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		sink:      sink,
		paramName: paramName,
		maxBytes:  maxBytes,
		metrics:   metrics,
		logger:    logger,
	}
}

func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		h.metrics.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		h.metrics.requestDuration.Observe(time.Since(start).Seconds())
	}()

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	result, err := h.receive(r)
	if err != nil {
		status = statusFor(err)
		h.logger.Warn("Upload rejected", "status", status, "remote", r.RemoteAddr, "error", err)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	h.logger.Info("Upload stored", "files", len(result.Files), "remote", r.RemoteAddr)
	writeJSON(w, status, result)
}

// receive streams every part of r; file parts go to the sink as they arrive
func (h *UploadHandler) receive(r *http.Request) (*types.UploadResult, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, errNotMultipart
	}

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotMultipart, err)
	}

	result := &types.UploadResult{Files: []types.StoredFile{}, Fields: map[string]string{}}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errMalformed, err)
		}

		if err := h.handlePart(r, part, result); err != nil {
			part.Close()
			return nil, err
		}
		part.Close()
	}
}

func (h *UploadHandler) handlePart(r *http.Request, part *multipart.Part, result *types.UploadResult) error {
	field := part.FormName()
	if field == "" {
		return nil
	}

	if part.FileName() == "" {
		value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
		if err != nil {
			return fmt.Errorf("%w: field %s: %w", errMalformed, field, err)
		}
		result.Fields[field] = string(value)
		return nil
	}

	if !h.acceptsField(field) {
		h.logger.Debug("Skipping file part", "field", field)
		return nil
	}

	obj, err := h.sink.Put(r.Context(), part.FileName(), part.Header.Get("Content-Type"), part)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", part.FileName(), err)
	}

	h.metrics.filesReceived.Inc()
	h.metrics.bytesReceived.Add(float64(obj.Size))

	result.Files = append(result.Files, types.StoredFile{
		Field:       field,
		Name:        part.FileName(),
		Key:         obj.Key,
		Size:        obj.Size,
		ContentType: obj.ContentType,
	})
	return nil
}

// acceptsField matches paramName and paramName[...]
func (h *UploadHandler) acceptsField(field string) bool {
	if field == h.paramName {
		return true
	}
	rest, ok := strings.CutPrefix(field, h.paramName+"[")
	return ok && strings.HasSuffix(rest, "]")
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, storage.ErrObjectTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNotMultipart), errors.Is(err, errMalformed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
