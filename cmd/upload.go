package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fileup/internal/app"
	"fileup/internal/file"
	"fileup/internal/ui"
)

type UploadFlags struct {
	Recursive  bool
	Peer       bool
	NoProgress bool
}

var uploadFlags UploadFlags

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload [paths...]",
	Short: "Upload files in batches to an HTTP endpoint or a peer",
	Long: `Upload files in batches. This will:

1. Collect the given files (directories with --recursive)
2. Validate them against the count, size, type and extension limits
3. Split the accepted files into batches of --max-files-per-request
4. Submit up to --concurrency batches at a time, showing progress

Batches are sent as multipart/form-data to --url, or with --peer over a
WebRTC data channel to a "fileup receive" peer. The exit status is non-zero
when any error was reported.`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateUploadFlags(&uploadFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUploadApp(&uploadFlags, args)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	flags := uploadCmd.Flags()
	flags.String("url", "", "upload endpoint (required unless --peer)")
	flags.String("method", "POST", "HTTP method")
	flags.String("param-name", "files", "form field name of the files")
	flags.StringToString("header", nil, "request header k=v (repeatable)")
	flags.StringToString("data", nil, "form field k=v sent with every batch (repeatable)")
	flags.Int("max-files", 25, "maximum number of files per upload (0 for no limit)")
	flags.Int64("max-file-size", 1<<20, "maximum file size in bytes")
	flags.Bool("enforce-max-file-size", false, "reject files larger than --max-file-size")
	flags.Int("max-files-per-request", 1, "files per batch (0 sends everything in one batch)")
	flags.Int("concurrency", 1, "batches in flight at once (0 for no limit)")
	flags.Duration("refresh", time.Second, "minimum interval between speed samples")
	flags.StringSlice("allow-ext", nil, "allowed file extensions, e.g. .jpg,.png")
	flags.StringSlice("allow-type", nil, "allowed mime types, e.g. image/*")
	flags.Bool("with-credentials", false, "keep cookies between requests")

	flags.BoolVarP(&uploadFlags.Recursive, "recursive", "r", false, "upload the files inside directories")
	flags.BoolVar(&uploadFlags.Peer, "peer", false, "upload to a peer over WebRTC instead of HTTP")
	flags.BoolVar(&uploadFlags.NoProgress, "no-progress", false, "do not draw a progress bar")

	// Bind flags to viper so config files and FILEUP_* variables apply too
	bindings := map[string]string{
		"upload.url":                     "url",
		"upload.method":                  "method",
		"upload.param_name":              "param-name",
		"upload.headers":                 "header",
		"upload.fields":                  "data",
		"upload.max_files":               "max-files",
		"upload.max_file_size":           "max-file-size",
		"upload.enforce_max_file_size":   "enforce-max-file-size",
		"upload.max_files_per_request":   "max-files-per-request",
		"upload.max_concurrent_requests": "concurrency",
		"upload.refresh":                 "refresh",
		"upload.allowed_extensions":      "allow-ext",
		"upload.allowed_types":           "allow-type",
		"upload.with_credentials":        "with-credentials",
	}
	for key, name := range bindings {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}
}

// validateUploadFlags validates the upload command flags
func validateUploadFlags(flags *UploadFlags) error {
	if flags.Peer {
		return nil
	}
	if cfg.Upload.URL == "" {
		return errors.New("--url is required unless --peer is set")
	}
	return nil
}

// runUploadApp creates and runs the upload application
func runUploadApp(flags *UploadFlags, paths []string) error {
	ctx, cancel := createContext()
	defer cancel()

	var signaller app.Signaller
	if flags.Peer {
		s, err := createSignaller(ctx)
		if err != nil {
			return err
		}
		signaller = s
	}

	console := ui.NewConsoleUI(os.Stdin, os.Stdout)
	uploadApp := app.NewUploadApp(cfg, file.NewFileService(), signaller, console, os.Stderr, logger)

	err := uploadApp.Run(ctx, &app.UploadOptions{
		Paths:     paths,
		Recursive: flags.Recursive,
		Peer:      flags.Peer,
		Progress:  !flags.NoProgress,
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}
