package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// newInspectCommand mirrors original_source/kwctl/src/inspect.rs's metadata
// dump: pull the policy if needed, print its parsed metadata as YAML.
// Signature inspection is left to the verify subcommand, since sigstore
// wire parsing stays outside the core (spec §1).
func newInspectCommand(env func() (*commandEnv, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <policy-uri>",
		Short: "Print a policy module's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env()
			if err != nil {
				return err
			}
			cache, policy, err := loadPolicy(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}
			defer cache.Close(cmd.Context())

			out, err := yaml.Marshal(policy.Metadata)
			if err != nil {
				return fmt.Errorf("rendering metadata as yaml: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "digest: sha256:%s\n%s", policy.Digest, out)
			return nil
		},
	}
}
