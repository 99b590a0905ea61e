// Package linearizer turns committed leaders into the total order of blocks.
// For each committed leader it collects the causal history that no earlier
// commit already covered, orders it deterministically, and records the commit
// in DagState. The resulting commit sequence is identical on every honest
// committee member.
package linearizer

import (
	"sort"

	"github.com/relab/dagbft"
	"github.com/relab/dagbft/dagstate"
	"github.com/relab/dagbft/logging"
	"github.com/relab/dagbft/metrics"
	"github.com/relab/dagbft/modules"
)

// Linearizer collapses committed leaders into committed sub-DAGs.
type Linearizer struct {
	logger  logging.Logger
	metrics *metrics.Consensus
	dag     *dagstate.DagState
}

// New returns a linearizer. Dependencies are resolved through the module
// system.
func New() *Linearizer {
	return &Linearizer{}
}

// InitModule gives the linearizer access to the modules it depends on.
func (l *Linearizer) InitModule(mods *modules.Core) {
	mods.Get(
		&l.logger,
		&l.metrics,
		&l.dag,
	)
}

// HandleCommit processes a batch of decided leaders in order and returns one
// committed sub-DAG per committed leader. Skipped leaders produce no sub-DAG
// but still advance the sequence. The method is idempotent at the slot level:
// a leader whose slot already produced committed output is passed over, so an
// equivocator's sibling block can never be committed twice.
func (l *Linearizer) HandleCommit(decided []dagbft.DecidedLeader) []*dagbft.CommittedSubDag {
	var subdags []*dagbft.CommittedSubDag
	for _, leader := range decided {
		l.metrics.DecidedLeaders.WithLabelValues(leader.Status.String()).Inc()
		if leader.Status != dagbft.StatusCommit {
			continue
		}
		// The slot is the idempotence key, not the digest. Checking the
		// digest here would let a second block at an already-committed
		// slot through.
		if l.dag.IsAnyBlockAtSlotCommitted(leader.Slot) {
			l.logger.Debugf("leader slot %s already committed, skipping", leader.Slot)
			continue
		}
		subdags = append(subdags, l.collectSubDag(leader.Block))
	}
	return subdags
}

// collectSubDag gathers the not-yet-committed causal history of the leader,
// marks it committed, and records the commit.
func (l *Linearizer) collectSubDag(leader *dagbft.VerifiedBlock) *dagbft.CommittedSubDag {
	committedRounds := l.dag.LastCommittedRounds()
	gcRound := l.dag.GCRound()

	var blocks []*dagbft.VerifiedBlock
	visited := map[dagbft.BlockRef]bool{leader.Ref(): true}
	visitedSlots := map[dagbft.Slot]bool{leader.Slot(): true}
	frontier := []*dagbft.VerifiedBlock{leader}
	for len(frontier) > 0 {
		block := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		blocks = append(blocks, block)

		for _, ref := range block.Ancestors() {
			if visited[ref] || ref.Round == dagbft.GenesisRound {
				continue
			}
			visited[ref] = true
			// the per-authority watermark and the GC boundary bound the
			// descent: everything below either is already in the sequence
			// or was collected as unavailable
			if ref.Round <= committedRounds[ref.Author] || ref.Round <= gcRound {
				continue
			}
			// Drop the branch when the slot is already claimed, whether by
			// an earlier commit or by a sibling reached first in this
			// traversal. The slot is the key an equivocator cannot
			// diversify, so this check must be slot-level, not digest-level.
			if visitedSlots[ref.Slot()] || l.dag.IsAnyBlockAtSlotCommitted(ref.Slot()) {
				continue
			}
			visitedSlots[ref.Slot()] = true
			ancestor, ok := l.dag.GetBlock(ref)
			if !ok {
				l.logger.Panicf("ancestor %s of committed leader %s should exist in the DAG", ref, leader)
			}
			frontier = append(frontier, ancestor)
		}
	}

	// deterministic order: ancestors first, ties broken by author and digest
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Ref().Compare(blocks[j].Ref()) < 0
	})

	refs := make([]dagbft.BlockRef, len(blocks))
	for i, block := range blocks {
		refs[i] = block.Ref()
		l.dag.SetCommitted(block.Ref())
	}

	// leader timestamps come from untrusted clocks; clamping to the previous
	// commit keeps the sequence monotonic
	timestamp := leader.TimestampMs()
	if last := l.dag.LastCommitTimestampMs(); timestamp < last {
		timestamp = last
	}

	commit := &dagbft.Commit{
		Index:       l.dag.LastCommitIndex() + 1,
		Leader:      leader.Ref(),
		Blocks:      refs,
		TimestampMs: timestamp,
	}
	l.dag.AddCommit(commit)
	l.logger.Debugf("committed %s", commit)

	return &dagbft.CommittedSubDag{
		Leader:      leader.Ref(),
		Blocks:      blocks,
		CommitIndex: commit.Index,
		TimestampMs: timestamp,
	}
}
