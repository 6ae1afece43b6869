package types

// NodeState is the lifecycle stage of a cluster node. States only move forward.
type NodeState int

const (
	// Unconfigured is the state of a freshly constructed node.
	Unconfigured NodeState = iota
	// PortsAssigned means the port bands have been computed.
	PortsAssigned
	// Starting means the node process has been spawned.
	Starting
	// Ready means the node answered its readyz probe.
	Ready
	// Connected means the node sees every required peer.
	Connected
	// Terminated means the node process has been killed.
	Terminated
)

func (s NodeState) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case PortsAssigned:
		return "ports-assigned"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Connected:
		return "connected"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
