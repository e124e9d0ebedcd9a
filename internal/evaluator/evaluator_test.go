package evaluator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewarden/policy-engine/internal/constants"
	"github.com/kubewarden/policy-engine/pkg/types"
)

type fakeAdapter struct {
	resp   types.ValidationResponse
	err    error
	panics bool
}

func (f *fakeAdapter) Evaluate(context.Context, types.ValidateRequest, json.RawMessage) (types.ValidationResponse, error) {
	if f.panics {
		panic("guest blew up")
	}
	return f.resp, f.err
}

func (f *fakeAdapter) ValidateSettings(context.Context, json.RawMessage) error {
	return f.err
}

func admissionRequest(uid string) types.ValidateRequest {
	return types.ValidateRequest{Admission: &types.AdmissionRequest{
		UID:       uid,
		Kind:      types.GroupVersionKind{Group: "apps", Version: "v1"},
		Resource:  "deployments",
		Operation: "CREATE",
	}}
}

func TestEvaluateShortCircuitsOnUnmatchedRule(t *testing.T) {
	sel, err := newRuleSelector([]types.Rule{{
		APIGroups: []string{"batch"}, APIVersions: []string{"v1"}, Resources: []string{"jobs"}, Operations: []string{"CREATE"},
	}})
	require.NoError(t, err)

	fa := &fakeAdapter{resp: types.ValidationResponse{Allowed: false, Message: "should never run"}}
	e := &Evaluator{adapter: fa, selector: sel}

	resp, err := e.Evaluate(context.Background(), admissionRequest("req-1"), nil)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Equal(t, "req-1", resp.UID)
}

func TestEvaluatePassesThroughMatchedAllow(t *testing.T) {
	sel, err := newRuleSelector(nil)
	require.NoError(t, err)

	fa := &fakeAdapter{resp: types.ValidationResponse{Allowed: true}}
	e := &Evaluator{adapter: fa, selector: sel}

	resp, err := e.Evaluate(context.Background(), admissionRequest("req-2"), nil)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Equal(t, "req-2", resp.UID)
}

func TestEvaluateDeniesMutationFromNonMutatingPolicy(t *testing.T) {
	sel, err := newRuleSelector(nil)
	require.NoError(t, err)

	fa := &fakeAdapter{resp: types.ValidationResponse{Allowed: true, MutatedObject: json.RawMessage(`{"spec":{}}`)}}
	e := &Evaluator{adapter: fa, selector: sel, mutating: false}

	resp, err := e.Evaluate(context.Background(), admissionRequest("req-3"), nil)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Equal(t, constants.MutationNotAllowedErrorKind, resp.ErrorKind)
}

func TestEvaluateAllowsMutationFromMutatingPolicy(t *testing.T) {
	sel, err := newRuleSelector(nil)
	require.NoError(t, err)

	fa := &fakeAdapter{resp: types.ValidationResponse{Allowed: true, MutatedObject: json.RawMessage(`{"spec":{}}`)}}
	e := &Evaluator{adapter: fa, selector: sel, mutating: true}

	resp, err := e.Evaluate(context.Background(), admissionRequest("req-4"), nil)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.NotEmpty(t, resp.MutatedObject)
}

func TestEvaluateConvertsGuestTrapToDeny(t *testing.T) {
	sel, err := newRuleSelector(nil)
	require.NoError(t, err)

	fa := &fakeAdapter{err: newTrapError(assertErr("module trapped"))}
	e := &Evaluator{adapter: fa, selector: sel}

	resp, err := e.Evaluate(context.Background(), admissionRequest("req-5"), nil)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Equal(t, constants.RuntimeTrapErrorKind, resp.ErrorKind)
}

func TestEvaluateRecoversGuestPanicAsDeny(t *testing.T) {
	sel, err := newRuleSelector(nil)
	require.NoError(t, err)

	fa := &fakeAdapter{panics: true}
	e := &Evaluator{adapter: fa, selector: sel}

	resp, err := e.Evaluate(context.Background(), admissionRequest("req-6"), nil)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Equal(t, constants.RuntimeTrapErrorKind, resp.ErrorKind)
}

func TestEvaluatePropagatesNonTrapAdapterErrors(t *testing.T) {
	sel, err := newRuleSelector(nil)
	require.NoError(t, err)

	fa := &fakeAdapter{err: assertErr("malformed policy module")}
	e := &Evaluator{adapter: fa, selector: sel}

	_, err = e.Evaluate(context.Background(), admissionRequest("req-7"), nil)
	require.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
