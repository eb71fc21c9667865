// Handles the "strata stat" command.

package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <container/path>",
	Short: "Show an object's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, objectPath, err := splitObjectTarget(args[0])
		if err != nil {
			return err
		}

		entry, err := store.StatObject(cmd.Context(), container, objectPath)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintf(tw, "Name:\t%s\n", entry.Path)
		fmt.Fprintf(tw, "Size:\t%d\n", entry.Size)
		fmt.Fprintf(tw, "Last Modified:\t%s\n", entry.LastModified.UTC().Format(time.RFC3339))
		if !entry.CreationTime.IsZero() {
			fmt.Fprintf(tw, "Created:\t%s\n", entry.CreationTime.UTC().Format(time.RFC3339))
		}
		if entry.ContentType != "" {
			fmt.Fprintf(tw, "Content-Type:\t%s\n", entry.ContentType)
		}
		if entry.ContentMD5 != "" {
			fmt.Fprintf(tw, "Content-MD5:\t%s\n", entry.ContentMD5)
		}
		if entry.ContentSHA1 != "" {
			fmt.Fprintf(tw, "Content-SHA1:\t%s\n", entry.ContentSHA1)
		}

		keys := make([]string, 0, len(entry.Metadata))
		for key := range entry.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(tw, "%s:\t%s\n", key, entry.Metadata[key])
		}

		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
