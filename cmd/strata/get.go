// Handles the "strata get" command.

package main

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <container/path> [file]",
	Short: "Download an object to a file, or stdout with \"-\"",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, objectPath, err := splitObjectTarget(args[0])
		if err != nil {
			return err
		}

		dest := path.Base(objectPath)
		if len(args) == 2 {
			dest = args[1]
		}

		rc, err := store.GetObject(cmd.Context(), container, objectPath)
		if err != nil {
			return err
		}
		defer rc.Close()

		if dest == "-" {
			_, err = io.Copy(os.Stdout, rc)
			return err
		}

		f, err := os.Create(dest)
		if err != nil {
			return err
		}

		n, err := io.Copy(f, rc)
		if err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		fmt.Printf("Downloaded %s/%s to %s (%d bytes)\n", container, objectPath, dest, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
