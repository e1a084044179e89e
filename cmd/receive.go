package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fileup/internal/app"
	"fileup/internal/ui"
	"fileup/pkg/utils"
)

type ReceiveFlags struct {
	DstPath string
	Code    string
}

var receiveFlags ReceiveFlags

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Receive batches uploaded by a peer (answers its offer)",
	Long: `Receive files from a "fileup upload --peer" sender via WebRTC. This will:

1. Read the sender's offer for the session code
2. Publish an SDP answer
3. Store every batch the sender uploads in the configured storage
4. Answer each batch with the stored files, like an HTTP endpoint would

Use --dst to choose the directory for the disk backend. Without --code you
are prompted for the code the sender shows.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateReceiveFlags(&receiveFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReceiverApp(&receiveFlags)
	},
}

// validateReceiveFlags validates the receive command flags
func validateReceiveFlags(flags *ReceiveFlags) error {
	if flags.Code != "" && !utils.IsValidCode(flags.Code) {
		return fmt.Errorf("code must be %d alphanumeric characters", utils.CodeLength)
	}
	if flags.DstPath != "" {
		if _, err := utils.ResolveDestinationPath(flags.DstPath); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVarP(&receiveFlags.DstPath, "dst", "d", "", "directory to store received files (disk backend)")
	receiveCmd.Flags().StringVarP(&receiveFlags.Code, "code", "c", "", "session code shown by the sender")
	receiveCmd.Flags().String("storage", "disk", "storage backend: disk, s3 or minio")

	_ = viper.BindPFlag("storage.backend", receiveCmd.Flags().Lookup("storage"))
}

// runReceiverApp creates and runs the receiver application
func runReceiverApp(flags *ReceiveFlags) error {
	ctx, cancel := createContext()
	defer cancel()

	signaller, err := createSignaller(ctx)
	if err != nil {
		return err
	}

	console := ui.NewConsoleUI(os.Stdin, os.Stdout)
	receiverApp := app.NewReceiverApp(cfg, signaller, console, logger)
	return receiverApp.Run(ctx, &app.ReceiverOptions{
		DestPath: flags.DstPath,
		Code:     flags.Code,
	})
}
