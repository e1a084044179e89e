package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileup/internal/config"
	"fileup/internal/file"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		input  string
		base   string
	}{
		{name: "plain", prefix: "in/", input: "a.png", base: "a.png"},
		{name: "strips directories", prefix: "", input: "../../etc/passwd", base: "passwd"},
		{name: "windows separators", prefix: "", input: `C:\photos\b.jpg`, base: "b.jpg"},
		{name: "empty name", prefix: "", input: "", base: "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := objectKey(tt.prefix, tt.input)

			require.True(t, strings.HasPrefix(key, tt.prefix))
			id, base, ok := strings.Cut(strings.TrimPrefix(key, tt.prefix), "/")
			require.True(t, ok)
			assert.NoError(t, uuid.Validate(id))
			assert.Equal(t, tt.base, base)
		})
	}
}

func TestDiskSink_Put(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDiskSink(dir, "batch/", file.NewFileService())
	require.NoError(t, err)

	obj, err := sink.Put(context.Background(), "report.txt", "text/plain", strings.NewReader("quarterly"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(obj.Key, "batch/"))
	assert.True(t, strings.HasSuffix(obj.Key, "/report.txt"))
	assert.Equal(t, int64(9), obj.Size)
	assert.Equal(t, "text/plain", obj.ContentType)

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(obj.Key)))
	require.NoError(t, err)
	assert.Equal(t, "quarterly", string(data))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestDiskSink_RemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDiskSink(dir, "", file.NewFileService())
	require.NoError(t, err)

	_, err = sink.Put(context.Background(), "x.bin", "", io.MultiReader(strings.NewReader("partial"), failingReader{}))
	require.Error(t, err)

	var found []string
	require.NoError(t, filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			found = append(found, p)
		}
		return err
	}))
	assert.Empty(t, found)
}

func TestDiskSink_Cancelled(t *testing.T) {
	sink, err := NewDiskSink(t.TempDir(), "", file.NewFileService())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = sink.Put(ctx, "a.txt", "", strings.NewReader("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{ETag: aws.String("etag")}, nil
}

func TestS3Sink_Put(t *testing.T) {
	client := &fakeS3{}
	sink := NewS3Sink(client, "received", "in/", 1024)

	obj, err := sink.Put(context.Background(), "a.png", "image/png", bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)

	assert.Equal(t, "received", aws.ToString(client.input.Bucket))
	assert.Equal(t, obj.Key, aws.ToString(client.input.Key))
	assert.Equal(t, "image/png", aws.ToString(client.input.ContentType))
	assert.Equal(t, int64(9), aws.ToInt64(client.input.ContentLength))
	assert.Equal(t, "a.png", client.input.Metadata["original-filename"])
	assert.Equal(t, []byte("png-bytes"), client.body)
	assert.Equal(t, int64(9), obj.Size)
}

func TestS3Sink_Errors(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		client := &fakeS3{}
		sink := NewS3Sink(client, "b", "", 4)

		_, err := sink.Put(context.Background(), "a", "", strings.NewReader("12345"))

		assert.ErrorIs(t, err, ErrObjectTooLarge)
		assert.Nil(t, client.input, "nothing uploaded")
	})

	t.Run("client failure", func(t *testing.T) {
		client := &fakeS3{err: errors.New("access denied")}
		sink := NewS3Sink(client, "b", "", 0)

		_, err := sink.Put(context.Background(), "a", "", strings.NewReader("1"))

		assert.ErrorContains(t, err, "access denied")
	})
}

type fakeMinio struct {
	bucket string
	key    string
	size   int64
	opts   minio.PutObjectOptions
	body   []byte
}

func (f *fakeMinio) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.bucket, f.key, f.size, f.opts = bucketName, objectName, objectSize, opts
	f.body, _ = io.ReadAll(reader)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName}, nil
}

func TestMinioSink_Put(t *testing.T) {
	client := &fakeMinio{}
	sink := NewMinioSink(client, "received", "")

	obj, err := sink.Put(context.Background(), "notes.txt", "", strings.NewReader("hello"))
	require.NoError(t, err)

	assert.Equal(t, "received", client.bucket)
	assert.Equal(t, obj.Key, client.key)
	assert.Equal(t, int64(-1), client.size)
	assert.Equal(t, "application/octet-stream", client.opts.ContentType)
	assert.Equal(t, "notes.txt", client.opts.UserMetadata["original-filename"])
	assert.Equal(t, []byte("hello"), client.body)
	assert.Equal(t, int64(5), obj.Size, "size counted when the server reports none")
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	cfg := config.NewDefaultConfig().Storage
	cfg.Dir = t.TempDir()
	sink, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &DiskSink{}, sink)

	cfg.Backend = "tape"
	_, err = New(context.Background(), cfg, logger)
	assert.ErrorIs(t, err, config.ErrInvalidStorageBackend)
}
