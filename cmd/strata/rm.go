// Handles the "strata rm" command.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <container/path>",
	Short: "Delete an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, objectPath, err := splitObjectTarget(args[0])
		if err != nil {
			return err
		}

		if err := store.DeleteObject(cmd.Context(), container, objectPath); err != nil {
			return err
		}

		fmt.Printf("Deleted %s/%s\n", container, objectPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
