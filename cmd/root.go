package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fileup/internal/config"
	"fileup/internal/signalling"
)

var (
	cfg     *config.Config
	logger  *slog.Logger
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fileup",
	Short: "fileup - batch file uploads with progress",
	Long: `fileup validates a set of local files, splits it into batches and uploads
every batch, reporting progress as it goes.

Batches go to an HTTP endpoint as multipart/form-data, or straight to a peer
over a WebRTC data channel.

Usage:
  Upload over HTTP:   fileup upload --url https://host/upload photos/ -r
  Serve uploads:      fileup serve --addr :8080 --dst ./uploads
  Upload to a peer:   fileup upload --peer photos/ -r
  Receive from peer:  fileup receive --dst ./uploads`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig()

		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded

		logger, err = newLogger(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debug("Using config file", "path", used)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fileup.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in the config file. Environment variables are layered
// on top by config.Load.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".fileup")
	}

	// A missing config file is fine; defaults and flags still apply.
	_ = viper.ReadInConfig()
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the slog handler selected by the log configuration
func newLogger(c config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, config.ErrInvalidLogFormat
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// createSignaller connects to the Firebase signalling store
func createSignaller(ctx context.Context) (*signalling.Service, error) {
	if err := cfg.ValidatePeer(); err != nil {
		return nil, fmt.Errorf("invalid peer configuration: %w", err)
	}
	return signalling.NewFirebaseService(ctx, cfg, logger)
}
