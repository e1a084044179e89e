package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"fileup/internal/upload"
)

var (
	ErrInvalidBufferConfig        = errors.New("buffered amount low threshold must be less than max buffered amount")
	ErrInvalidPacketSize          = errors.New("packet size must be greater than 0")
	ErrInvalidFirebaseConfig      = errors.New("Firebase credentials path must be set")
	ErrInvalidFirebaseProjectID   = errors.New("Firebase project ID must be set")
	ErrInvalidFirebaseDatabaseURL = errors.New("Firebase database URL must be set")
	ErrInvalidAnswerPolling       = errors.New("Firebase poll interval must be positive and within the answer timeout")
	ErrInvalidStorageBackend      = errors.New("storage backend must be one of disk, s3, minio")
	ErrInvalidStorageBucket       = errors.New("storage bucket must be set for s3 and minio")
	ErrInvalidStorageEndpoint     = errors.New("storage endpoint must be set for minio")
	ErrInvalidServerPath          = errors.New("server path must start with /")
	ErrInvalidLogFormat           = errors.New("log format must be text or json")
)

// Storage backends
const (
	BackendDisk  = "disk"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// EnvPrefix is the prefix of environment variables overriding configuration
const EnvPrefix = "FILEUP"

// Config holds all application configuration
type Config struct {
	Upload   UploadConfig   `mapstructure:"upload" json:"upload"`
	WebRTC   WebRTCConfig   `mapstructure:"webrtc" json:"webrtc"`
	Firebase FirebaseConfig `mapstructure:"firebase" json:"firebase"`
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Storage  StorageConfig  `mapstructure:"storage" json:"storage"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// UploadConfig holds the sending side configuration
type UploadConfig struct {
	URL                   string            `mapstructure:"url" json:"url"`
	Method                string            `mapstructure:"method" json:"method"`
	ParamName             string            `mapstructure:"param_name" json:"param_name"`
	Headers               map[string]string `mapstructure:"headers" json:"headers"`
	Fields                map[string]string `mapstructure:"fields" json:"fields"`
	WithCredentials       bool              `mapstructure:"with_credentials" json:"with_credentials"`
	MaxFiles              int               `mapstructure:"max_files" json:"max_files"`
	MaxFileSize           int64             `mapstructure:"max_file_size" json:"max_file_size"`
	EnforceMaxFileSize    bool              `mapstructure:"enforce_max_file_size" json:"enforce_max_file_size"`
	AllowedExtensions     []string          `mapstructure:"allowed_extensions" json:"allowed_extensions"`
	AllowedTypes          []string          `mapstructure:"allowed_types" json:"allowed_types"`
	MaxFilesPerRequest    int               `mapstructure:"max_files_per_request" json:"max_files_per_request"`
	MaxConcurrentRequests int               `mapstructure:"max_concurrent_requests" json:"max_concurrent_requests"`
	Refresh               time.Duration     `mapstructure:"refresh" json:"refresh"`
	Timeout               time.Duration     `mapstructure:"timeout" json:"timeout"`
}

// WebRTCConfig holds WebRTC-specific configuration
type WebRTCConfig struct {
	ICEServers                 []string      `mapstructure:"ice_servers" json:"ice_servers"`
	BufferedAmountLowThreshold uint64        `mapstructure:"buffered_amount_low_threshold" json:"buffered_amount_low_threshold"`
	MaxBufferedAmount          uint64        `mapstructure:"max_buffered_amount" json:"max_buffered_amount"`
	PacketSize                 int           `mapstructure:"packet_size" json:"packet_size"`
	ResultTimeout              time.Duration `mapstructure:"result_timeout" json:"result_timeout"`
}

// FirebaseConfig holds Firebase client configuration
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id" json:"project_id"`
	DatabaseURL     string `mapstructure:"database_url" json:"database_url"`
	CredentialsPath string `mapstructure:"credentials_path" json:"credentials_path"`

	// PollInterval and AnswerTimeout bound how long an offer waits for its answer
	PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	AnswerTimeout time.Duration `mapstructure:"answer_timeout" json:"answer_timeout"`
}

// ServerConfig holds the receiving HTTP server configuration
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" json:"addr"`
	Path              string        `mapstructure:"path" json:"path"`
	ParamName         string        `mapstructure:"param_name" json:"param_name"`
	MaxRequestBytes   int64         `mapstructure:"max_request_bytes" json:"max_request_bytes"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" json:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// StorageConfig selects and configures where received files are stored
type StorageConfig struct {
	Backend        string `mapstructure:"backend" json:"backend"`
	Dir            string `mapstructure:"dir" json:"dir"`
	Prefix         string `mapstructure:"prefix" json:"prefix"`
	MaxObjectBytes int64  `mapstructure:"max_object_bytes" json:"max_object_bytes"`
	Bucket         string `mapstructure:"bucket" json:"bucket"`
	Region         string `mapstructure:"region" json:"region"`
	Endpoint       string `mapstructure:"endpoint" json:"endpoint"`
	UsePathStyle   bool   `mapstructure:"use_path_style" json:"use_path_style"`
	AccessKey      string `mapstructure:"access_key" json:"access_key"`
	SecretKey      string `mapstructure:"secret_key" json:"secret_key"`
	UseSSL         bool   `mapstructure:"use_ssl" json:"use_ssl"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	opts := upload.DefaultOptions()
	return &Config{
		Upload: UploadConfig{
			Method:                opts.Method,
			ParamName:             opts.ParamName,
			Headers:               map[string]string{},
			Fields:                map[string]string{},
			MaxFiles:              opts.MaxFiles,
			MaxFileSize:           opts.MaxFileSize,
			MaxFilesPerRequest:    opts.MaxFilesPerRequest,
			MaxConcurrentRequests: opts.MaxConcurrentRequests,
			Refresh:               opts.Refresh,
			Timeout:               10 * time.Minute,
		},
		WebRTC: WebRTCConfig{
			ICEServers:                 []string{"stun:stun.l.google.com:19302"},
			BufferedAmountLowThreshold: 512 * 1024,  // 512 KB
			MaxBufferedAmount:          1024 * 1024, // 1 MB
			PacketSize:                 16 * 1024,   // 16 KB packets
			ResultTimeout:              time.Minute,
		},
		Firebase: FirebaseConfig{
			PollInterval:  5 * time.Second,
			AnswerTimeout: 2 * time.Minute,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			Path:              "/upload",
			ParamName:         opts.ParamName,
			MaxRequestBytes:   512 << 20,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Storage: StorageConfig{
			Backend:        BackendDisk,
			Dir:            "uploads",
			MaxObjectBytes: 64 << 20,
			Region:         "us-east-1",
			UseSSL:         true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.WebRTC.BufferedAmountLowThreshold >= c.WebRTC.MaxBufferedAmount {
		return ErrInvalidBufferConfig
	}
	if c.WebRTC.PacketSize <= 0 {
		return ErrInvalidPacketSize
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return ErrInvalidServerPath
	}
	switch c.Storage.Backend {
	case BackendDisk:
	case BackendS3, BackendMinio:
		if c.Storage.Bucket == "" {
			return ErrInvalidStorageBucket
		}
		if c.Storage.Backend == BackendMinio && c.Storage.Endpoint == "" {
			return ErrInvalidStorageEndpoint
		}
	default:
		return ErrInvalidStorageBackend
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

// ValidatePeer additionally checks the settings needed for peer transfers
func (c *Config) ValidatePeer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Firebase.CredentialsPath == "" {
		return ErrInvalidFirebaseConfig
	}
	if c.Firebase.ProjectID == "" {
		return ErrInvalidFirebaseProjectID
	}
	if c.Firebase.DatabaseURL == "" {
		return ErrInvalidFirebaseDatabaseURL
	}
	if c.Firebase.PollInterval <= 0 || c.Firebase.AnswerTimeout < c.Firebase.PollInterval {
		return ErrInvalidAnswerPolling
	}
	return nil
}

// ICEServerConfig converts the configured ICE server URLs for pion
func (w WebRTCConfig) ICEServerConfig() []webrtc.ICEServer {
	if len(w.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: w.ICEServers}}
}

// Options converts the upload section to uploader options
func (u UploadConfig) Options() upload.Options {
	return upload.Options{
		URL:                   u.URL,
		Method:                u.Method,
		WithCredentials:       u.WithCredentials,
		ParamName:             u.ParamName,
		Fields:                u.Fields,
		Headers:               u.Headers,
		MaxFiles:              u.MaxFiles,
		MaxFileSize:           u.MaxFileSize,
		EnforceMaxFileSize:    u.EnforceMaxFileSize,
		AllowedExtensions:     u.AllowedExtensions,
		AllowedTypes:          u.AllowedTypes,
		MaxFilesPerRequest:    u.MaxFilesPerRequest,
		MaxConcurrentRequests: u.MaxConcurrentRequests,
		Refresh:               u.Refresh,
	}
}

// Load builds the configuration from defaults, the config file read into v,
// FILEUP_* environment variables and flags bound to v, in increasing order
// of precedence.
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can override
// keys absent from the config file.
func setDefaults(v *viper.Viper, c *Config) {
	defaults := map[string]any{
		"upload.url":                     c.Upload.URL,
		"upload.method":                  c.Upload.Method,
		"upload.param_name":              c.Upload.ParamName,
		"upload.headers":                 c.Upload.Headers,
		"upload.fields":                  c.Upload.Fields,
		"upload.with_credentials":        c.Upload.WithCredentials,
		"upload.max_files":               c.Upload.MaxFiles,
		"upload.max_file_size":           c.Upload.MaxFileSize,
		"upload.enforce_max_file_size":   c.Upload.EnforceMaxFileSize,
		"upload.allowed_extensions":      c.Upload.AllowedExtensions,
		"upload.allowed_types":           c.Upload.AllowedTypes,
		"upload.max_files_per_request":   c.Upload.MaxFilesPerRequest,
		"upload.max_concurrent_requests": c.Upload.MaxConcurrentRequests,
		"upload.refresh":                 c.Upload.Refresh,
		"upload.timeout":                 c.Upload.Timeout,

		"webrtc.ice_servers":                   c.WebRTC.ICEServers,
		"webrtc.buffered_amount_low_threshold": c.WebRTC.BufferedAmountLowThreshold,
		"webrtc.max_buffered_amount":           c.WebRTC.MaxBufferedAmount,
		"webrtc.packet_size":                   c.WebRTC.PacketSize,
		"webrtc.result_timeout":                c.WebRTC.ResultTimeout,

		"firebase.project_id":       c.Firebase.ProjectID,
		"firebase.database_url":     c.Firebase.DatabaseURL,
		"firebase.credentials_path": c.Firebase.CredentialsPath,
		"firebase.poll_interval":    c.Firebase.PollInterval,
		"firebase.answer_timeout":   c.Firebase.AnswerTimeout,

		"server.addr":                c.Server.Addr,
		"server.path":                c.Server.Path,
		"server.param_name":          c.Server.ParamName,
		"server.max_request_bytes":   c.Server.MaxRequestBytes,
		"server.read_header_timeout": c.Server.ReadHeaderTimeout,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,

		"storage.backend":          c.Storage.Backend,
		"storage.dir":              c.Storage.Dir,
		"storage.prefix":           c.Storage.Prefix,
		"storage.max_object_bytes": c.Storage.MaxObjectBytes,
		"storage.bucket":           c.Storage.Bucket,
		"storage.region":           c.Storage.Region,
		"storage.endpoint":         c.Storage.Endpoint,
		"storage.use_path_style":   c.Storage.UsePathStyle,
		"storage.access_key":       c.Storage.AccessKey,
		"storage.secret_key":       c.Storage.SecretKey,
		"storage.use_ssl":          c.Storage.UseSSL,

		"log.level":  c.Log.Level,
		"log.format": c.Log.Format,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
