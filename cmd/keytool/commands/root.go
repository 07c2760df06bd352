package commands

import (
	"github.com/spf13/cobra"
)

// Execute runs the keytool CLI with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "keytool",
		Short:         "Generate and check La Ruche device keys",
		SilenceUsage:  true,
	}
	root.AddCommand(generateCmd(), verifyCmd())
	return root
}
