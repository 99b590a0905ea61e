package dagbft

import "fmt"

// CommitIndex is the position of a commit in the total order of commits.
// Indexes start at 1; downstream consumers must treat the index as the sole
// idempotence key when replaying the commit stream.
type CommitIndex uint32

// GenesisCommitIndex is the index before the first commit.
const GenesisCommitIndex CommitIndex = 0

// Status is the outcome of a commit decision for a leader slot.
type Status uint8

const (
	// StatusUndecided means there is not yet enough information in the DAG
	// to commit or skip the leader slot.
	StatusUndecided Status = iota
	// StatusCommit means the leader block achieved quorum certification.
	StatusCommit
	// StatusSkip means a quorum made certification of the slot impossible.
	StatusSkip
)

func (s Status) String() string {
	switch s {
	case StatusUndecided:
		return "Undecided"
	case StatusCommit:
		return "Commit"
	case StatusSkip:
		return "Skip"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// DecidedLeader is the decision for one leader slot.
// Block is only set when Status is StatusCommit; under equivocation it is the
// one block at the slot that achieved quorum certification.
type DecidedLeader struct {
	Slot   Slot
	Block  *VerifiedBlock
	Status Status
}

// NewCommitDecision creates a commit decision for the given leader block.
func NewCommitDecision(block *VerifiedBlock) DecidedLeader {
	return DecidedLeader{Slot: block.Slot(), Block: block, Status: StatusCommit}
}

// NewSkipDecision creates a skip decision for the given leader slot.
func NewSkipDecision(slot Slot) DecidedLeader {
	return DecidedLeader{Slot: slot, Status: StatusSkip}
}

// NewUndecided creates an undecided placeholder for the given leader slot.
func NewUndecided(slot Slot) DecidedLeader {
	return DecidedLeader{Slot: slot, Status: StatusUndecided}
}

func (d DecidedLeader) String() string {
	return fmt.Sprintf("%s(%s)", d.Status, d.Slot)
}

// Commit is the durable record of one commit decision: the leader that
// anchored it and the refs of all blocks in its sub-DAG, in commit order.
type Commit struct {
	Index       CommitIndex
	Leader      BlockRef
	Blocks      []BlockRef
	TimestampMs uint64
}

func (c *Commit) String() string {
	return fmt.Sprintf("Commit{index: %d, leader: %s, blocks: %d}", c.Index, c.Leader, len(c.Blocks))
}

// CommittedSubDag is the causal closure of a committed leader,
// minus everything that was already committed by an earlier leader.
// Blocks are in a deterministic topological order:
// ancestors before descendants, ties broken by (round, author).
type CommittedSubDag struct {
	Leader      BlockRef
	Blocks      []*VerifiedBlock
	CommitIndex CommitIndex
	TimestampMs uint64
}

func (s *CommittedSubDag) String() string {
	return fmt.Sprintf("SubDag{index: %d, leader: %s, blocks: %d}", s.CommitIndex, s.Leader, len(s.Blocks))
}
