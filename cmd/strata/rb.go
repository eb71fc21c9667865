// Handles the "strata rb" command.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rbCmdConfig struct {
	force bool
}

var rbCmd = &cobra.Command{
	Use:   "rb <container>",
	Short: "Delete a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if rbCmdConfig.force {
			if err := removeTree(cmd.Context(), args[0], ""); err != nil {
				return err
			}
		}

		if err := store.DeleteContainer(cmd.Context(), args[0]); err != nil {
			return err
		}

		fmt.Printf("Deleted container %q\n", args[0])
		return nil
	},
}

// removeTree deletes every object below prefix, descending one listing
// level at a time.
func removeTree(ctx context.Context, container, prefix string) error {
	entries, err := store.ListObjects(ctx, container, prefix)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsPrefix() {
			if err := removeTree(ctx, container, entry.Name()); err != nil {
				return err
			}
			continue
		}
		if err := store.DeleteObject(ctx, container, entry.Name()); err != nil {
			return err
		}
	}

	return nil
}

func init() {
	rootCmd.AddCommand(rbCmd)

	rbCmd.Flags().BoolVar(&rbCmdConfig.force, "force", false, "delete the container's objects first")
}
