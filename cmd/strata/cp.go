// Handles the "strata cp" command.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cpCmd = &cobra.Command{
	Use:   "cp <container/path> <container/path>",
	Short: "Copy an object, server side when the provider can",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcContainer, srcPath, err := splitObjectTarget(args[0])
		if err != nil {
			return err
		}

		dstContainer, dstPath, err := splitObjectTarget(args[1])
		if err != nil {
			return err
		}

		if err := store.CopyObject(cmd.Context(), srcContainer, srcPath, dstContainer, dstPath); err != nil {
			return err
		}

		fmt.Printf("Copied %s to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cpCmd)
}
