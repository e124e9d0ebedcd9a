package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/kubewarden/policy-engine/internal/capabilities"
	"github.com/kubewarden/policy-engine/internal/verify"
)

// rawSignature is the YAML shape one entry of an all_of/any_of list takes
// in a verification config file (spec §4.7, §6).
type rawSignature struct {
	Kind        string            `json:"kind"`
	Issuer      string            `json:"issuer,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Owner       string            `json:"owner,omitempty"`
	Repository  string            `json:"repository,omitempty"`
	Key         string            `json:"key,omitempty"`
	Certificate string            `json:"certificate,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

func (s rawSignature) toSignature() (verify.Signature, error) {
	sig := verify.Signature{Annotations: s.Annotations}
	switch s.Kind {
	case "GenericIssuer":
		sig.Kind, sig.Issuer, sig.Subject = verify.KindGenericIssuer, s.Issuer, s.Subject
	case "GithubAction":
		sig.Kind, sig.Owner, sig.Repository = verify.KindGithubAction, s.Owner, s.Repository
	case "PubKey":
		sig.Kind, sig.Key = verify.KindPubKey, s.Key
	case "Certificate":
		sig.Kind, sig.CertificatePEM = verify.KindCertificate, s.Certificate
	default:
		return verify.Signature{}, fmt.Errorf("unknown signature constraint kind %q", s.Kind)
	}
	return sig, nil
}

type rawVerificationConfig struct {
	AllOf []rawSignature `json:"allOf,omitempty"`
	AnyOf *struct {
		MinimumMatches int            `json:"minimumMatches"`
		Signatures     []rawSignature `json:"signatures"`
	} `json:"anyOf,omitempty"`
}

func loadVerificationConfig(path string) (verify.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return verify.Config{}, fmt.Errorf("reading verification config %s: %w", path, err)
	}
	var raw rawVerificationConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return verify.Config{}, fmt.Errorf("parsing verification config %s: %w", path, err)
	}

	var cfg verify.Config
	for _, rs := range raw.AllOf {
		sig, err := rs.toSignature()
		if err != nil {
			return verify.Config{}, err
		}
		cfg.AllOf = append(cfg.AllOf, sig)
	}
	if raw.AnyOf != nil {
		anyOf := &verify.AnyOf{MinimumMatches: raw.AnyOf.MinimumMatches}
		for _, rs := range raw.AnyOf.Signatures {
			sig, err := rs.toSignature()
			if err != nil {
				return verify.Config{}, err
			}
			anyOf.Signatures = append(anyOf.Signatures, sig)
		}
		cfg.AnyOf = anyOf
	}
	return cfg, cfg.Validate()
}

func newVerifyCommand(env func() (*commandEnv, error)) *cobra.Command {
	var configFile string

	verifyCmd := &cobra.Command{
		Use:   "verify <image-ref>",
		Short: "Verify a policy image's signatures against a verification config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("--verification-config is required")
			}
			e, err := env()
			if err != nil {
				return err
			}
			cfg, err := loadVerificationConfig(configFile)
			if err != nil {
				return err
			}

			sources, err := loadSources(e)
			if err != nil {
				return err
			}
			registry := &capabilities.GgcrRegistry{Sources: sources}
			verifier := &verify.Verifier{Fetcher: unavailableSignatureFetcher{}, Registry: registry}

			digest, err := verifier.Verify(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified, digest: %s\n", digest)
			return nil
		},
	}
	verifyCmd.Flags().StringVar(&configFile, "verification-config", "", "path to a verification-config.yml (all_of/any_of signature constraints)")
	return verifyCmd
}
