// Handles the "strata cat" command.

package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <container/path>",
	Short: "Write an object's payload to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, objectPath, err := splitObjectTarget(args[0])
		if err != nil {
			return err
		}

		rc, err := store.GetObject(cmd.Context(), container, objectPath)
		if err != nil {
			return err
		}
		defer rc.Close()

		_, err = io.Copy(os.Stdout, rc)
		return err
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
}
