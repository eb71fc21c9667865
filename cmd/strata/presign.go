// Handles the "strata presign" command.

package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"strata/pkg/strata"
)

var presignCmdConfig struct {
	method string
	expiry time.Duration
}

var presignCmd = &cobra.Command{
	Use:   "presign <container/path>",
	Short: "Mint a presigned URL for an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, objectPath, err := splitObjectTarget(args[0])
		if err != nil {
			return err
		}

		var url string
		switch strings.ToUpper(presignCmdConfig.method) {
		case http.MethodGet:
			url, err = store.PresignGet(cmd.Context(), container, objectPath, presignCmdConfig.expiry)
		case http.MethodPut:
			url, err = store.PresignPut(cmd.Context(), container, objectPath, presignCmdConfig.expiry)
		default:
			return fmt.Errorf("%w: presign supports GET and PUT, not %q", strata.ErrInvalidArgument, presignCmdConfig.method)
		}
		if err != nil {
			return err
		}

		fmt.Println(url)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(presignCmd)

	presignCmd.Flags().StringVar(&presignCmdConfig.method, "method", "GET", "HTTP method the URL authorizes (GET or PUT)")
	presignCmd.Flags().DurationVar(&presignCmdConfig.expiry, "expiry", strata.DefaultPresignExpiry, "how long the URL stays valid")
}
