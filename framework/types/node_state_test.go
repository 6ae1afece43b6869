package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeStateOrdering(t *testing.T) {
	states := []NodeState{Unconfigured, PortsAssigned, Starting, Ready, Connected, Terminated}
	for i := 1; i < len(states); i++ {
		require.Less(t, states[i-1], states[i])
	}
	require.Equal(t, "connected", Connected.String())
	require.Equal(t, "unknown", NodeState(42).String())
}
