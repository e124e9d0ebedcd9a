// Package cmd implements the command-line surface around the evaluation
// core: pulling, inspecting, listing, verifying and locally running policy
// modules. This plumbing is explicitly outside the core's scope; it exists
// only to drive the core the way an operator or kwctl would. Grounded on
// internal/audit-scanner/cmd/root.go's NewRootCommand()-returns-*cobra.Command
// plus package-scope Execute() pattern.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubewarden/policy-engine/internal/log"
)

const defaultPlatformVersion = "1.0.0"

// NewRootCommand builds the policy-engine root command with every
// subcommand attached.
func NewRootCommand() *cobra.Command {
	var (
		logLevel        string
		storeDir        string
		sourcesFile     string
		platformVersion string
	)

	rootCmd := &cobra.Command{
		Use:   "policy-engine",
		Short: "Pull, inspect, verify and locally run Kubewarden-style Wasm admission policies",
		Long: `policy-engine drives the policy-evaluation core from the command line:
pulling policy modules into a local store, inspecting their metadata,
verifying their signatures, and evaluating a single request against them
without a running admission webhook.`,
	}
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", log.LevelInfoString,
		fmt.Sprintf("level of the logs. Supported values are: %v", log.SupportedLevels()))
	rootCmd.PersistentFlags().StringVar(&storeDir, "store-dir", defaultStoreDir(),
		"directory the pull cache resolves policy URIs into")
	rootCmd.PersistentFlags().StringVar(&sourcesFile, "sources-file", "",
		"path to a sources.yml describing insecure registries and source authorities")
	rootCmd.PersistentFlags().StringVar(&platformVersion, "platform-version", defaultPlatformVersion,
		"running platform version policies' minimumKubewardenVersion is checked against")

	env := func() (*commandEnv, error) {
		handler, err := log.NewHandler(os.Stdout, logLevel)
		if err != nil {
			return nil, err
		}
		logger := slog.New(handler)
		// controller-runtime logs through logr; route it through the same
		// JSON handler rather than its default no-op logger, the way the
		// teacher's main.go wires ctrl.SetLogger(zap.New(...)).
		ctrl.SetLogger(logr.FromSlogHandler(handler))
		return &commandEnv{
			logger:          logger,
			storeDir:        storeDir,
			sourcesFile:     sourcesFile,
			platformVersion: platformVersion,
		}, nil
	}

	rootCmd.AddCommand(
		newPullCommand(env),
		newPoliciesCommand(env),
		newInspectCommand(env),
		newVerifyCommand(env),
		newRunCommand(env),
	)

	return rootCmd
}

// commandEnv collects the flags every subcommand needs to construct its own
// slice of the core.
type commandEnv struct {
	logger          *slog.Logger
	storeDir        string
	sourcesFile     string
	platformVersion string
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".policy-engine/store"
	}
	return home + "/.cache/policy-engine/store"
}

// Execute runs rootCmd, reporting a non-zero exit status on failure.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
}
