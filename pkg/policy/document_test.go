package policy

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

const samplePolicy = `
version: 3
environments:
  dev:
    allow: ["*"]
    deny: []
  stage:
    allow: ["docker.logs", "k8s.events"]
  prod:
    allow: ["*"]
    deny: ["docker.restart_container", "service.restart"]
`

func TestParseDocument_Valid(t *testing.T) {
	doc, err := ParseDocument([]byte(samplePolicy))
	require.NoError(t, err)

	assert.Equal(t, 3, doc.Version)
	assert.Len(t, doc.Environments, 3)
	assert.Equal(t, []string{}, doc.Environments["stage"].Deny)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, doc.Hash)
}

func TestParseDocument_JSONIsAccepted(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"version":"2024-01","environments":{"dev":{"allow":["*"],"deny":[]}}}`))
	require.NoError(t, err)
	assert.Equal(t, "2024-01", doc.Version)
	assert.True(t, doc.Decide("docker.logs", "dev").Allowed)
}

func TestParseDocument_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		msg     string
	}{
		{"malformed", "environments: [unclosed", ErrParse, ""},
		{"scalar top level", "just a string", ErrNotObject, "policy document must be an object"},
		{"list top level", "- a\n- b", ErrNotObject, ""},
		{"missing environments", "version: 1", ErrMissingEnvironments, "policy document must define 'environments' object"},
		{"environments not object", "environments: [dev]", ErrMissingEnvironments, ""},
		{"allow not a list", "environments:\n  dev:\n    allow: 5\n", ErrInvalid, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, err.Error())
			}
		})
	}
}

func TestParseDocument_VersionTypes(t *testing.T) {
	doc, err := ParseDocument([]byte("version: 1.5\nenvironments: {}\n"))
	require.NoError(t, err)
	assert.Nil(t, doc.Version)

	doc, err = ParseDocument([]byte("version: true\nenvironments: {}\n"))
	require.NoError(t, err)
	assert.Nil(t, doc.Version)

	doc, err = ParseDocument([]byte("environments: {}\n"))
	require.NoError(t, err)
	assert.Nil(t, doc.Version)
}

func TestDecide(t *testing.T) {
	doc, err := ParseDocument([]byte(samplePolicy))
	require.NoError(t, err)

	tests := []struct {
		action, env string
		allowed     bool
		reason      string
	}{
		{"k8s.scale_deployment", "dev", true, ReasonAllowed},
		{"docker.restart_container", "prod", false, ReasonDenyList},
		{"service.restart", "prod", false, ReasonDenyList},
		{"k8s.events", "prod", true, ReasonAllowed},
		{"docker.logs", "stage", true, ReasonAllowed},
		{"vm.read_file", "stage", false, ReasonNotAllowed},
		{"docker.logs", "qa", false, ReasonNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.action, func(t *testing.T) {
			d := doc.Decide(tt.action, tt.env)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestDecide_DenyWildcardWins(t *testing.T) {
	doc, err := ParseDocument([]byte("environments:\n  prod:\n    allow: [docker.logs]\n    deny: ['*']\n"))
	require.NoError(t, err)
	d := doc.Decide("docker.logs", "prod")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenyList, d.Reason)
}

func TestDecide_NilDocument(t *testing.T) {
	var doc *Document
	d := doc.Decide("docker.logs", "dev")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnavailable, d.Reason)
}

func TestHash_StableAcrossFormatting(t *testing.T) {
	a, err := ParseDocument([]byte("version: 1\nenvironments:\n  dev:\n    allow: [\"*\"]\n    deny: []\n"))
	require.NoError(t, err)
	b, err := ParseDocument([]byte(`{"environments": {"dev": {"deny": [], "allow": ["*"]}}, "version": 1}`))
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)

	c, err := ParseDocument([]byte("version: 2\nenvironments:\n  dev:\n    allow: [\"*\"]\n"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestParseDocument_ConditionCompileErrorIsLoadError(t *testing.T) {
	_, err := ParseDocument([]byte(`
environments:
  prod:
    allow: ["*"]
    conditions:
      - name: broken
        expression: "request.params.replicas <="
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "broken")
}

func TestParseDocument_ConditionMustBeBool(t *testing.T) {
	_, err := ParseDocument([]byte(`
environments:
  prod:
    allow: ["*"]
    conditions:
      - name: not-bool
        expression: "'a' + 'b'"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must evaluate to bool")
}

func TestShippedPolicyParses(t *testing.T) {
	data, err := os.ReadFile("../../config/policy.yaml")
	require.NoError(t, err)
	doc, err := ParseDocument(data)
	require.NoError(t, err)

	assert.True(t, doc.Decide("jvm.status", "prod").Allowed)
	assert.False(t, doc.Decide("service.restart", "prod").Allowed)
	assert.False(t, doc.Decide("service.restart", "stage").Allowed)
	assert.True(t, doc.Decide("vm.list_path", "dev").Allowed)

	engine := NewEngine(NewFileSource("../../config/policy.yaml"))
	req := contracts.ActionRequest{
		Action:      contracts.ActionK8sScaleDeployment,
		RequestedBy: "sre",
		Params:      map[string]any{"replicas": 50},
	}
	d := engine.EvaluateRequest(context.Background(), req, "prod")
	assert.False(t, d.Allowed)
	assert.Equal(t, "denied by policy condition prod-scale-limit", d.Reason)
}
