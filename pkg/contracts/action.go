package contracts

import (
	"time"

	"github.com/google/uuid"
)

// ActionName identifies an operational task the gateway can run.
type ActionName string

// Action name constants.
const (
	ActionDockerLogs             ActionName = "docker.logs"
	ActionDockerRestartContainer ActionName = "docker.restart_container"
	ActionK8sPodLogs             ActionName = "k8s.pod_logs"
	ActionK8sEvents              ActionName = "k8s.events"
	ActionK8sScaleDeployment     ActionName = "k8s.scale_deployment"
	ActionJVMStatus              ActionName = "jvm.status"
	ActionJVMThreadDump          ActionName = "jvm.thread_dump"
	ActionVMListPath             ActionName = "vm.list_path"
	ActionVMFindPath             ActionName = "vm.find_path"
	ActionVMReadFile             ActionName = "vm.read_file"
	ActionServiceRestart         ActionName = "service.restart"
)

// ActionNames lists every action the gateway accepts, in declaration order.
func ActionNames() []ActionName {
	return []ActionName{
		ActionDockerLogs,
		ActionDockerRestartContainer,
		ActionK8sPodLogs,
		ActionK8sEvents,
		ActionK8sScaleDeployment,
		ActionJVMStatus,
		ActionJVMThreadDump,
		ActionVMListPath,
		ActionVMFindPath,
		ActionVMReadFile,
		ActionServiceRestart,
	}
}

// Valid reports whether n is one of the known action names.
func (n ActionName) Valid() bool {
	for _, known := range ActionNames() {
		if n == known {
			return true
		}
	}
	return false
}

// ActionRequest is a caller's request to run one action.
// It is treated as immutable once accepted by the coordinator.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ActionRequest struct {
	RequestID   uuid.UUID      `json:"request_id"` // Idempotency key
	RequestedAt time.Time      `json:"requested_at"`
	RequestedBy string         `json:"requested_by"`
	Environment Environment    `json:"environment"`
	Action      ActionName     `json:"action"`
	Target      map[string]any `json:"target"`
	Params      map[string]any `json:"params"`
}

// ActionAccepted is the immediate answer to an admitted (or already known) request.
type ActionAccepted struct {
	RequestID uuid.UUID    `json:"request_id"`
	Status    ActionStatus `json:"status"`
}
