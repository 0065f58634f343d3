package approval

import "context"

// Prompt is what an approver is shown for one request.
type Prompt struct {
	CorrelationID string
	Service       string
	Scope         string
	Reason        string
}

// Messenger presents approval prompts to a human approver and annotates them
// once the outcome is known. Approver responses are fed back through
// Coordinator.Resolve.
type Messenger interface {
	PresentApprovalRequest(ctx context.Context, p Prompt) (handle string, err error)
	AnnotateResult(ctx context.Context, handle string, d Decision) error
}

// Resolver is the inbound side a Messenger reports approver decisions to.
type Resolver interface {
	Resolve(id string, d Decision) bool
}

var _ Resolver = (*Coordinator)(nil)
