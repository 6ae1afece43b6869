package types

// NodePorts holds the ports a local node listens on.
// Chain is the shared port of the local chain process.
type NodePorts struct {
	API     int
	P2P     int
	Chain   int
	Console int
}
