package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "convergo",
		Short:         "Convergo drives Windows devices and directory accounts to their desired identity state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags.register(cmd)

	cmd.AddCommand(newApplyCmd(flags))
	cmd.AddCommand(newVerifyCmd(flags))
	cmd.AddCommand(newHardMatchCmd(flags))
	cmd.AddCommand(newCheckCmd(flags))
	cmd.AddCommand(newHandlersCmd(flags))
	cmd.AddCommand(newHistoryCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
