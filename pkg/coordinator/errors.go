package coordinator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

// ErrNotFound is returned by Status for an unknown request identifier.
var ErrNotFound = errors.New("request_id not found")

// Error codes surfaced to callers.
const (
	CodePolicyDenied        = "policy_denied"
	CodeEnvironmentMismatch = "environment_mismatch"
)

// DeniedError reports a request refused by policy. The denial is also
// stored as a terminal record.
type DeniedError struct {
	RequestID uuid.UUID
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("request %s denied by policy: %s", e.RequestID, e.Reason)
}

// Code returns the machine-readable error code.
func (e *DeniedError) Code() string { return CodePolicyDenied }

// EnvironmentMismatchError reports a request addressed to a different
// environment than the one this gateway serves. Nothing is recorded.
type EnvironmentMismatchError struct {
	Expected contracts.Environment
	Provided contracts.Environment
}

func (e *EnvironmentMismatchError) Error() string {
	return fmt.Sprintf("environment mismatch: gateway serves %q, request targets %q", e.Expected, e.Provided)
}

// Code returns the machine-readable error code.
func (e *EnvironmentMismatchError) Code() string { return CodeEnvironmentMismatch }
