package dagbft

import "fmt"

// BlockAcceptedEvent is raised whenever a block is accepted into the DAG,
// locally produced or received from a peer.
type BlockAcceptedEvent struct {
	Block *VerifiedBlock
	Own   bool // true if the block was produced by the local authority
}

func (e BlockAcceptedEvent) String() string {
	return fmt.Sprintf("BlockAccepted{%s}", e.Block)
}

// CommittedSubDagEvent is raised for every committed sub-DAG, in commit order.
type CommittedSubDagEvent struct {
	SubDag *CommittedSubDag
}

func (e CommittedSubDagEvent) String() string {
	return fmt.Sprintf("Committed{%s}", e.SubDag)
}
