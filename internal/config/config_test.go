package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "POST", cfg.Upload.Method)
	assert.Equal(t, "files", cfg.Upload.ParamName)
	assert.Equal(t, 25, cfg.Upload.MaxFiles)
	assert.Equal(t, int64(1<<20), cfg.Upload.MaxFileSize)
	assert.Equal(t, 1, cfg.Upload.MaxFilesPerRequest)
	assert.Equal(t, time.Second, cfg.Upload.Refresh)
	assert.Equal(t, BackendDisk, cfg.Storage.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{
			name:   "buffer threshold above max",
			mutate: func(c *Config) { c.WebRTC.BufferedAmountLowThreshold = c.WebRTC.MaxBufferedAmount },
			want:   ErrInvalidBufferConfig,
		},
		{
			name:   "zero packet size",
			mutate: func(c *Config) { c.WebRTC.PacketSize = 0 },
			want:   ErrInvalidPacketSize,
		},
		{
			name:   "relative server path",
			mutate: func(c *Config) { c.Server.Path = "upload" },
			want:   ErrInvalidServerPath,
		},
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Storage.Backend = "ftp" },
			want:   ErrInvalidStorageBackend,
		},
		{
			name:   "s3 without bucket",
			mutate: func(c *Config) { c.Storage.Backend = BackendS3 },
			want:   ErrInvalidStorageBucket,
		},
		{
			name: "minio without endpoint",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendMinio
				c.Storage.Bucket = "files"
			},
			want: ErrInvalidStorageEndpoint,
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Log.Format = "xml" },
			want:   ErrInvalidLogFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidatePeer(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.ErrorIs(t, cfg.ValidatePeer(), ErrInvalidFirebaseConfig)

	cfg.Firebase.CredentialsPath = "creds.json"
	assert.ErrorIs(t, cfg.ValidatePeer(), ErrInvalidFirebaseProjectID)

	cfg.Firebase.ProjectID = "fileup"
	assert.ErrorIs(t, cfg.ValidatePeer(), ErrInvalidFirebaseDatabaseURL)

	cfg.Firebase.DatabaseURL = "https://fileup.firebaseio.com"
	assert.NoError(t, cfg.ValidatePeer())

	cfg.Firebase.AnswerTimeout = time.Second
	assert.ErrorIs(t, cfg.ValidatePeer(), ErrInvalidAnswerPolling)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileup.yaml")
	content := `
upload:
  url: http://localhost:8080/upload
  max_files_per_request: 3
  refresh: 250ms
  headers:
    x-token: abc
  allowed_extensions: [".png", ".jpg"]
storage:
  backend: minio
  bucket: received
  endpoint: localhost:9000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("FILEUP_UPLOAD_MAX_CONCURRENT_REQUESTS", "4")
	t.Setenv("FILEUP_LOG_LEVEL", "debug")

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/upload", cfg.Upload.URL)
	assert.Equal(t, 3, cfg.Upload.MaxFilesPerRequest)
	assert.Equal(t, 250*time.Millisecond, cfg.Upload.Refresh)
	assert.Equal(t, "abc", cfg.Upload.Headers["x-token"])
	assert.Equal(t, []string{".png", ".jpg"}, cfg.Upload.AllowedExtensions)
	assert.Equal(t, 4, cfg.Upload.MaxConcurrentRequests)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendMinio, cfg.Storage.Backend)
	assert.Equal(t, "POST", cfg.Upload.Method, "defaults survive")
}

func TestLoad_Invalid(t *testing.T) {
	v := viper.New()
	v.Set("storage.backend", "tape")

	_, err := Load(v)

	assert.ErrorIs(t, err, ErrInvalidStorageBackend)
}

func TestUploadConfig_Options(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Upload.URL = "http://example.test"
	cfg.Upload.AllowedTypes = []string{"^image/"}

	opts := cfg.Upload.Options()

	require.NoError(t, opts.Validate())
	assert.Equal(t, "http://example.test", opts.URL)
	assert.Equal(t, []string{"^image/"}, opts.AllowedTypes)
	assert.Equal(t, cfg.Upload.MaxFiles, opts.MaxFiles)
}

func TestICEServerConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	servers := cfg.WebRTC.ICEServerConfig()

	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, servers[0].URLs)
}
