package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewarden/policy-engine/internal/bus"
	"github.com/kubewarden/policy-engine/internal/verify"
)

func TestSigstoreConfigFromRequestPubKeys(t *testing.T) {
	cfg, err := sigstoreConfigFromRequest(&bus.SigstoreVerifyRequest{
		Kind:    "PubKeys",
		PubKeys: []string{"key-a", "key-b"},
	})
	require.NoError(t, err)
	require.Len(t, cfg.AllOf, 2)
	assert.Equal(t, verify.KindPubKey, cfg.AllOf[0].Kind)
	assert.Equal(t, "key-a", cfg.AllOf[0].Key)
}

func TestSigstoreConfigFromRequestGithubRequiresField(t *testing.T) {
	_, err := sigstoreConfigFromRequest(&bus.SigstoreVerifyRequest{Kind: "Github"})
	require.Error(t, err)
}

func TestSigstoreConfigFromRequestRejectsUnknownKind(t *testing.T) {
	_, err := sigstoreConfigFromRequest(&bus.SigstoreVerifyRequest{Kind: "Bogus"})
	require.Error(t, err)
}

func TestSigstoreConfigFromRequestKeyless(t *testing.T) {
	cfg, err := sigstoreConfigFromRequest(&bus.SigstoreVerifyRequest{
		Kind:    "Keyless",
		Keyless: []bus.KeylessEntry{{Issuer: "https://accounts.google.com", Subject: "ci@example.com"}},
	})
	require.NoError(t, err)
	require.Len(t, cfg.AllOf, 1)
	assert.Equal(t, verify.KindGenericIssuer, cfg.AllOf[0].Kind)
	assert.Equal(t, "ci@example.com", cfg.AllOf[0].Subject)
}
