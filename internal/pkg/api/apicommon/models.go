package apicommon

import (
	"fmt"
	"time"

	"github.com/unbasical/webship/pkg/deployer"
)

// CreateDeploymentRequest asks the server to deploy a published snapshot to
// an environment.
type CreateDeploymentRequest struct {
	Environment string `json:"environment"`
	// SnapshotRef is the tag of the snapshot to deploy.
	SnapshotRef string `json:"snapshot_ref"`
}

// CreateDeploymentResponse acknowledges an accepted deployment run.
type CreateDeploymentResponse struct {
	ID string `json:"id"`
}

// DeploymentResponse is the state of one deployment run.
type DeploymentResponse struct {
	ID          string            `json:"id"`
	Environment string            `json:"environment"`
	SnapshotRef string            `json:"snapshot_ref"`
	State       deployer.RunState `json:"state"`
	CreatedAt   time.Time         `json:"created_at"`
	// Report is set once the run has finished planning; it enumerates every
	// path and its outcome.
	Report *deployer.Report `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// ListEnvironmentsResponse enumerates the configured deploy targets.
type ListEnvironmentsResponse struct {
	Environments []string `json:"environments"`
}

// APIError wraps around the actual error for easier JSON parsing.
type APIError struct {
	InnerError APIErrorInner `json:"error"`
}

func (a APIError) Error() string {
	return a.InnerError.Error()
}

// APIErrorInner represents an error from the API.
type APIErrorInner struct {
	Code         int    `json:"code"`
	Message      string `json:"message,omitempty"`
	ErrorContext string `json:"context,omitempty"`
}

func (a APIErrorInner) Error() string {
	return fmt.Sprintf("server responded with error: status code: %v, message: %q, context: %q", a.Code, a.Message, a.ErrorContext)
}
