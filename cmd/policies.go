package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kubewarden/policy-engine/internal/policycache"
	"github.com/kubewarden/policy-engine/internal/policystore"
)

// newPoliciesCommand mirrors original_source/kwctl/src/policies.rs's
// policy_list()/list() table: one row per pulled policy, reporting whether
// it mutates, whether it is context-aware, its digest and its size.
func newPoliciesCommand(env func() (*commandEnv, error)) *cobra.Command {
	policiesCmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect the local policy store",
	}
	policiesCmd.AddCommand(newPoliciesListCommand(env))
	return policiesCmd
}

func newPoliciesListCommand(env func() (*commandEnv, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every policy pulled into the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := env()
			if err != nil {
				return err
			}
			store, err := policystore.New(e.storeDir)
			if err != nil {
				return err
			}
			pulled, err := store.List()
			if err != nil {
				return err
			}
			if len(pulled) == 0 {
				return nil
			}

			cache, err := policycache.New(cmd.Context(), e.platformVersion, e.logger)
			if err != nil {
				return fmt.Errorf("initialising policy cache: %w", err)
			}
			defer cache.Close(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "POLICY\tMUTATING\tCONTEXT AWARE\tSHA-256\tSIZE")
			for _, p := range pulled {
				mutating, contextAware := "unknown", "no"
				policy, err := cache.Load(cmd.Context(), p.URI, p.LocalPath)
				if err == nil {
					mutating = yesNo(policy.Metadata.Mutating)
					contextAware = yesNo(len(policy.Metadata.ContextAwareResources) > 0)
				}

				digest, err := p.Digest()
				if err != nil {
					return err
				}
				info, err := os.Stat(p.LocalPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d bytes\n", p, mutating, contextAware, digest, info.Size())
			}
			return w.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
