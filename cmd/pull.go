package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPullCommand(env func() (*commandEnv, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <policy-uri>",
		Short: "Pull a policy module into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env()
			if err != nil {
				return err
			}
			path, err := pulledPolicyPath(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
