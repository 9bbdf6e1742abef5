package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/hashforge/statetried/internal/storage/treestore"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("statetried version %s\n", rootCmd.Version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("Storage backends: %v\n", treestore.AvailableBackends())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
