// Handles the "strata ls" command.

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"strata/pkg/strata"
)

var lsCmd = &cobra.Command{
	Use:   "ls [container[/prefix]]",
	Short: "List containers, or the entries under a container prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return listContainers(cmd)
		}
		return listEntries(cmd, args[0])
	},
}

func listContainers(cmd *cobra.Command) error {
	infos, err := store.ListContainers(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\n", info.Created.UTC().Format(time.RFC3339), info.Name)
	}
	return tw.Flush()
}

func listEntries(cmd *cobra.Command, target string) error {
	container, prefix := splitTarget(target)
	if prefix != "" && !strings.HasSuffix(prefix, strata.Delimiter) {
		prefix += strata.Delimiter
	}

	entries, err := store.ListObjects(cmd.Context(), container, prefix)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, entry := range entries {
		name := strings.TrimPrefix(entry.Name(), prefix)
		if entry.IsPrefix() {
			fmt.Fprintf(tw, "\tPRE\t%s\n", name)
			continue
		}
		if obj, ok := entry.(strata.ObjectEntry); ok {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", obj.LastModified.UTC().Format(time.RFC3339), obj.Size, name)
		}
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
