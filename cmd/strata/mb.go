// Handles the "strata mb" command.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"strata/pkg/strata"
)

var mbCmdConfig struct {
	region       string
	storageClass string
	acl          string
}

var mbCmd = &cobra.Command{
	Use:   "mb <container>",
	Short: "Create a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := strata.ContainerOptions{
			Region:       mbCmdConfig.region,
			StorageClass: mbCmdConfig.storageClass,
			ACL:          mbCmdConfig.acl,
		}

		if err := store.CreateContainer(cmd.Context(), args[0], opts); err != nil {
			return err
		}

		fmt.Printf("Created container %q\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mbCmd)

	mbCmd.Flags().StringVar(&mbCmdConfig.region, "region", "", "region for the new container")
	mbCmd.Flags().StringVar(&mbCmdConfig.storageClass, "storage-class", "", "storage class, where the provider has one")
	mbCmd.Flags().StringVar(&mbCmdConfig.acl, "acl", "", "canned ACL, where the provider has one")
}
