// Package dagbft defines the core types shared by the components of a
// DAG-based Byzantine fault-tolerant consensus engine.
//
// A fixed committee of authorities produces signed blocks that reference
// blocks from earlier rounds, forming a causal DAG. The components in this
// module cooperate to derive an identical, ever-growing sequence of committed
// blocks on every honest authority:
//
//	local block production
//	        |
//	        v
//	DagState.AcceptBlock  ---->  Broadcaster (fan-out to peers)
//	        |
//	        v
//	UniversalCommitter.TryDecide (reads DagState + LeaderSchedule)
//	        |
//	        v
//	Linearizer.HandleCommit (marks committed, emits CommittedSubDags)
//
// The committed sub-DAG stream is consumed by downstream components such as
// execution and checkpointing, which are outside the scope of this module.
package dagbft

import (
	"encoding/base64"
	"fmt"
)

// AuthorityIndex is the stable identifier of a committee member.
// Indexes are dense and start at 0.
type AuthorityIndex uint32

// Round is a monotonic counter of DAG rounds. Genesis blocks are at round 0.
type Round uint32

// GenesisRound is the round of the genesis blocks.
const GenesisRound Round = 0

// Digest is a SHA256 digest of a block.
type Digest [32]byte

func (d Digest) String() string {
	return base64.StdEncoding.EncodeToString(d[:])[:8]
}

// Slot identifies the (round, author) position of a block in the DAG.
// An honest authority produces at most one block per slot,
// but a Byzantine authority may equivocate and produce several.
type Slot struct {
	Round  Round
	Author AuthorityIndex
}

func (s Slot) String() string {
	return fmt.Sprintf("[%d]%d", s.Author, s.Round)
}

// BlockRef uniquely identifies a block by its slot and digest.
type BlockRef struct {
	Round  Round
	Author AuthorityIndex
	Digest Digest
}

// Slot returns the slot that the referenced block occupies.
func (r BlockRef) Slot() Slot {
	return Slot{Round: r.Round, Author: r.Author}
}

// Compare orders refs by (round, author, digest).
// This order is shared by all authorities and is used for deterministic
// iteration and tie-breaking.
func (r BlockRef) Compare(other BlockRef) int {
	if r.Round != other.Round {
		if r.Round < other.Round {
			return -1
		}
		return 1
	}
	if r.Author != other.Author {
		if r.Author < other.Author {
			return -1
		}
		return 1
	}
	for i := range r.Digest {
		if r.Digest[i] != other.Digest[i] {
			if r.Digest[i] < other.Digest[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (r BlockRef) String() string {
	return fmt.Sprintf("%s(%.8s)", r.Slot(), r.Digest.String())
}
