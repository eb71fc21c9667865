// Handles the "strata put" command.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"strata/pkg/strata"
)

var putCmdConfig struct {
	meta        string
	contentType string
	sse         bool
}

var putCmd = &cobra.Command{
	Use:   "put <file> <container/path>",
	Short: "Upload a file, or stdin with \"-\"",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, objectPath, err := splitObjectTarget(args[1])
		if err != nil {
			return err
		}

		meta := strata.Metadata(parseKeyValue(putCmdConfig.meta))
		if putCmdConfig.contentType != "" {
			if meta == nil {
				meta = strata.Metadata{}
			}
			meta[strata.MetaContentType] = putCmdConfig.contentType
		}
		opts := strata.PutOptions{
			Metadata:             meta,
			ServerSideEncryption: putCmdConfig.sse,
		}

		var src strata.Source
		if args[0] == "-" {
			// Stdin has no knowable length; the engine classifies it.
			src = strata.Reader(os.Stdin)
		} else {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}
			src = strata.ReaderN(f, info.Size())
		}

		if err := store.PutObject(cmd.Context(), container, objectPath, src, opts); err != nil {
			return err
		}

		fmt.Printf("Uploaded %s/%s\n", container, objectPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(putCmd)

	putCmd.Flags().StringVar(&putCmdConfig.meta, "meta", "", "metadata entries: key1=value1,key2=value2")
	putCmd.Flags().StringVar(&putCmdConfig.contentType, "content-type", "", "value for the Content-Type metadata entry")
	putCmd.Flags().BoolVar(&putCmdConfig.sse, "sse", false, "ask the provider to encrypt the object at rest")
}
