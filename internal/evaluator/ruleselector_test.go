package evaluator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewarden/policy-engine/pkg/types"
)

func TestRuleSelectorNoRulesMatchesEverything(t *testing.T) {
	sel, err := newRuleSelector(nil)
	require.NoError(t, err)

	matched, err := sel.Matches(types.ValidateRequest{Admission: &types.AdmissionRequest{
		Kind:      types.GroupVersionKind{Group: "apps", Version: "v1"},
		Resource:  "deployments",
		Operation: "CREATE",
	}})
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestRuleSelectorRawRequestsAlwaysMatch(t *testing.T) {
	sel, err := newRuleSelector([]types.Rule{{
		APIGroups:   []string{"apps"},
		APIVersions: []string{"v1"},
		Resources:   []string{"deployments"},
		Operations:  []string{"CREATE"},
	}})
	require.NoError(t, err)

	matched, err := sel.Matches(types.ValidateRequest{Raw: json.RawMessage(`{"foo":"bar"}`)})
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestRuleSelectorMatchesDeclaredGroupVersionResourceOperation(t *testing.T) {
	sel, err := newRuleSelector([]types.Rule{{
		APIGroups:   []string{"apps"},
		APIVersions: []string{"v1"},
		Resources:   []string{"deployments"},
		Operations:  []string{"CREATE", "UPDATE"},
	}})
	require.NoError(t, err)

	req := func(group, version, resource, operation string) types.ValidateRequest {
		return types.ValidateRequest{Admission: &types.AdmissionRequest{
			Kind:      types.GroupVersionKind{Group: group, Version: version},
			Resource:  resource,
			Operation: operation,
		}}
	}

	matched, err := sel.Matches(req("apps", "v1", "deployments", "CREATE"))
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = sel.Matches(req("apps", "v1", "deployments", "DELETE"))
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = sel.Matches(req("batch", "v1", "jobs", "CREATE"))
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestRuleSelectorWildcardMatchesAnyValue(t *testing.T) {
	sel, err := newRuleSelector([]types.Rule{{
		APIGroups:   []string{"*"},
		APIVersions: []string{"*"},
		Resources:   []string{"*"},
		Operations:  []string{"*"},
	}})
	require.NoError(t, err)

	matched, err := sel.Matches(types.ValidateRequest{Admission: &types.AdmissionRequest{
		Kind:      types.GroupVersionKind{Group: "anything", Version: "v2"},
		Resource:  "whatever",
		Operation: "CONNECT",
	}})
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestRuleSelectorMultipleRulesAreOred(t *testing.T) {
	sel, err := newRuleSelector([]types.Rule{
		{APIGroups: []string{"apps"}, APIVersions: []string{"v1"}, Resources: []string{"deployments"}, Operations: []string{"CREATE"}},
		{APIGroups: []string{"batch"}, APIVersions: []string{"v1"}, Resources: []string{"jobs"}, Operations: []string{"CREATE"}},
	})
	require.NoError(t, err)

	matched, err := sel.Matches(types.ValidateRequest{Admission: &types.AdmissionRequest{
		Kind:      types.GroupVersionKind{Group: "batch", Version: "v1"},
		Resource:  "jobs",
		Operation: "CREATE",
	}})
	require.NoError(t, err)
	assert.True(t, matched)
}
