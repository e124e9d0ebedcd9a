package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kubewarden/policy-engine/internal/evaluator"
	"github.com/kubewarden/policy-engine/internal/snapshot"
	"github.com/kubewarden/policy-engine/pkg/types"
)

// newRunCommand evaluates a single validate request against a policy
// module without a running admission webhook, the local-evaluation tool
// spec §1 calls out as part of the command-line tooling around the core.
func newRunCommand(env func() (*commandEnv, error)) *cobra.Command {
	var (
		requestFile  string
		settingsFile string
	)

	runCmd := &cobra.Command{
		Use:   "run <policy-uri>",
		Short: "Evaluate a single request against a policy module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			runID := uuid.New().String()
			e.logger = e.logger.With("run_id", runID)

			requestData, err := readInput(requestFile, cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading request: %w", err)
			}
			req, err := decodeValidateRequest(requestData)
			if err != nil {
				return err
			}

			var settings json.RawMessage
			if settingsFile != "" {
				settings, err = os.ReadFile(settingsFile)
				if err != nil {
					return fmt.Errorf("reading settings file %s: %w", settingsFile, err)
				}
			}

			cache, policy, err := loadPolicy(ctx, e, args[0])
			if err != nil {
				return err
			}
			defer cache.Close(ctx)

			if err := evaluator.InstantiateWASI(ctx, cache); err != nil {
				return err
			}

			sender, shutdown, err := buildRouter(ctx, e)
			if err != nil {
				return err
			}
			defer shutdown()

			bridge, err := evaluator.NewHostBridge(ctx, cache, sender)
			if err != nil {
				return err
			}
			defer bridge.Close(ctx)

			snapshots := snapshot.NewBuilder(sender, policy.Metadata.ContextAwareResources)

			ev, err := evaluator.New(ctx, cache, policy, bridge, snapshots)
			if err != nil {
				return err
			}

			if err := ev.ValidateSettings(ctx, settings); err != nil {
				return fmt.Errorf("settings rejected: %w", err)
			}

			resp, err := ev.Evaluate(ctx, req, settings)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("rendering response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	runCmd.Flags().StringVar(&requestFile, "request", "", "path to the validate-request JSON document (default: stdin)")
	runCmd.Flags().StringVar(&settingsFile, "settings", "", "path to the policy settings JSON document")
	return runCmd
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// decodeValidateRequest distinguishes a Kubernetes AdmissionRequest from a
// raw object the way spec §3's tagged union does: an object carrying both
// "kind" and "object" fields is treated as an AdmissionRequest, everything
// else is passed through raw.
func decodeValidateRequest(data []byte) (types.ValidateRequest, error) {
	var probe struct {
		Kind   *types.GroupVersionKind `json:"kind"`
		Object json.RawMessage        `json:"object"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Kind != nil && len(probe.Object) > 0 {
		var adm types.AdmissionRequest
		if err := json.Unmarshal(data, &adm); err != nil {
			return types.ValidateRequest{}, fmt.Errorf("decoding admission request: %w", err)
		}
		return types.ValidateRequest{Admission: &adm}, nil
	}
	return types.ValidateRequest{Raw: json.RawMessage(data)}, nil
}
