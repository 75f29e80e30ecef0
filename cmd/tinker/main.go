package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDir   string
	flagState string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tinker: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tinker",
		Short:         "An interactive coding agent for your project directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagDir, "dir", ".", "project directory to work in")
	root.PersistentFlags().StringVar(&flagState, "state", "", "snapshot ref to restore before starting")

	root.AddCommand(newPromptCmd())
	root.AddCommand(newSettingsCmd())
	return root
}
