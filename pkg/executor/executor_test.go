package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

func request(action contracts.ActionName, params map[string]any) contracts.ActionRequest {
	return contracts.ActionRequest{
		RequestID:   uuid.New(),
		RequestedAt: time.Now().UTC(),
		RequestedBy: "tester",
		Environment: contracts.EnvironmentDev,
		Action:      action,
		Params:      params,
	}
}

func TestMockHandler(t *testing.T) {
	r, err := NewDefaultRegistry(0)
	require.NoError(t, err)

	summary, err := r.Execute(context.Background(), request(contracts.ActionDockerLogs, nil))
	require.NoError(t, err)
	assert.Equal(t, "Mock executed action 'docker.logs' for environment 'dev'", summary)
}

func TestMockHandler_HonoursLatencyAndCancellation(t *testing.T) {
	h := MockHandler(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h(ctx, request(contracts.ActionJVMStatus, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o600))

	r, err := NewDefaultRegistry(0)
	require.NoError(t, err)

	summary, err := r.Execute(context.Background(), request(contracts.ActionVMListPath, map[string]any{"path": dir}))
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Listed 3/3 entries under '%s'. Preview: a.txt, b.txt, logs/", resolved), summary)
}

func TestListPath_Empty(t *testing.T) {
	dir := t.TempDir()
	summary, err := ListPath(context.Background(), request(contracts.ActionVMListPath, map[string]any{"path": dir}))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(summary, "Preview: (empty)"), summary)
	assert.Contains(t, summary, "Listed 0/0 entries")
}

func TestListPath_Truncates(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < maxListEntries+5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%04d", i)), nil, 0o600))
	}

	summary, err := ListPath(context.Background(), request(contracts.ActionVMListPath, map[string]any{"path": dir}))
	require.NoError(t, err)
	assert.Contains(t, summary, fmt.Sprintf("Listed %d/%d entries", maxListEntries, maxListEntries+5))
	assert.Contains(t, summary, " (truncated). Preview: f0000, f0001")
	preview := summary[strings.Index(summary, "Preview: ")+len("Preview: "):]
	assert.Len(t, strings.Split(preview, ", "), previewEntries)
}

func TestListPath_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	r, err := NewDefaultRegistry(0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Execute(ctx, request(contracts.ActionVMListPath, map[string]any{"path": filepath.Join(dir, "nope")}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path does not exist: ")

	_, err = r.Execute(ctx, request(contracts.ActionVMListPath, map[string]any{"path": file}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is not a directory: ")
}

func TestListPath_InvalidParamsAreValidationErrors(t *testing.T) {
	r, err := NewDefaultRegistry(0)
	require.NoError(t, err)

	for name, params := range map[string]map[string]any{
		"missing":    nil,
		"blank":      {"path": "   "},
		"empty":      {"path": ""},
		"not string": {"path": true},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Execute(context.Background(), request(contracts.ActionVMListPath, params))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, "vm.list_path requires params.path as non-empty string", verr.Error())
			assert.Equal(t, contracts.ActionVMListPath, verr.Action)
		})
	}
}

func TestRegistry_CustomHandlerAndSchema(t *testing.T) {
	r := NewRegistry(0)
	err := r.Register(contracts.ActionK8sScaleDeployment,
		func(_ context.Context, req contracts.ActionRequest) (string, error) {
			return fmt.Sprintf("scaled to %v", req.Params["replicas"]), nil
		},
		`{"type":"object","required":["replicas"],"properties":{"replicas":{"type":"number","minimum":0}}}`,
		"",
	)
	require.NoError(t, err)

	summary, err := r.Execute(context.Background(), request(contracts.ActionK8sScaleDeployment, map[string]any{"replicas": float64(2)}))
	require.NoError(t, err)
	assert.Equal(t, "scaled to 2", summary)

	_, err = r.Execute(context.Background(), request(contracts.ActionK8sScaleDeployment, map[string]any{"replicas": float64(-1)}))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "k8s.scale_deployment: invalid params")
}

func TestRegistry_RejectsBadSchema(t *testing.T) {
	r := NewRegistry(0)
	err := r.Register(contracts.ActionJVMStatus, MockHandler(0), `{"type": 5}`, "")
	require.Error(t, err)
}

func TestRegistry_FallbackOption(t *testing.T) {
	r := NewRegistry(0, WithFallback(func(context.Context, contracts.ActionRequest) (string, error) {
		return "", errors.New("no handler")
	}))
	_, err := r.Execute(context.Background(), request(contracts.ActionK8sEvents, nil))
	assert.EqualError(t, err, "no handler")
}
