package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fileup/internal/app"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive HTTP uploads and store them",
	Long: `Serve an HTTP endpoint that accepts the multipart batches sent by
"fileup upload". Files are stored in the configured storage backend and every
request is answered with the stored files as JSON.

Also serves GET /healthz and Prometheus metrics on GET /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := createContext()
		defer cancel()
		return app.NewServeApp(cfg, logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("path", "/upload", "upload route")
	flags.String("param-name", "files", "form field name of the files")
	flags.Int64("max-request-bytes", 512<<20, "maximum request body size")
	flags.StringP("dst", "d", "uploads", "directory to store files (disk backend)")
	flags.String("bucket", "", "bucket for the s3 and minio backends")

	bindings := map[string]string{
		"server.addr":              "addr",
		"server.path":              "path",
		"server.param_name":        "param-name",
		"server.max_request_bytes": "max-request-bytes",
		"storage.dir":              "dst",
		"storage.bucket":           "bucket",
	}
	for key, name := range bindings {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}
}
