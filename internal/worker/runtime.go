package worker

import "context"

// Labels identifying meet-worker containers across restarts. Link and bot
// name ride along so reconciliation can rebuild the full meeting record.
const (
	LabelWorker    = "clara.meet-worker"
	LabelMeetingID = "clara.meeting-id"
	LabelMeetLink  = "clara.meet-link"
	LabelBotName   = "clara.bot-name"
	LabelSummary   = "clara.summary-worker"
)

// LaunchSpec describes one worker to start.
type LaunchSpec struct {
	Image  string
	Name   string
	Env    []string
	Labels map[string]string
}

// ContainerInfo is the runtime's view of a tracked worker. Address, when
// non-empty, is the host the worker's local HTTP endpoint answers on.
type ContainerInfo struct {
	ID       string
	Name     string
	Labels   map[string]string
	Running  bool
	ExitCode int
	Address  string
}

// Runtime abstracts the container engine so the orchestrator can run against
// Docker in production and plain processes in tests or on machines without a
// container daemon. Implementations must support label-based enumeration for
// startup reconciliation.
type Runtime interface {
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	Inspect(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListByLabel(ctx context.Context, label string) ([]ContainerInfo, error)
}
