// Package consensus wires the consensus core together: block production and
// acceptance on one side, leader decisions, linearization and commit output on
// the other. All state transitions run on the event loop goroutine, which
// keeps the accept-decide-linearize pipeline strictly ordered without locks.
package consensus

import (
	"fmt"
	"time"

	"github.com/relab/dagbft"
	"github.com/relab/dagbft/committer"
	"github.com/relab/dagbft/dagstate"
	"github.com/relab/dagbft/eventloop"
	"github.com/relab/dagbft/leaderschedule"
	"github.com/relab/dagbft/linearizer"
	"github.com/relab/dagbft/logging"
	"github.com/relab/dagbft/modules"
)

// Consensus drives the decision pipeline of one authority.
type Consensus struct {
	logger     logging.Logger
	committee  *dagbft.Committee
	eventLoop  *eventloop.EventLoop
	dag        *dagstate.DagState
	committer  *committer.UniversalCommitter
	linearizer *linearizer.Linearizer
	schedule   *leaderschedule.LeaderSchedule

	ownIndex dagbft.AuthorityIndex

	// lastDecided is the highest leader slot in the decided sequence.
	// Only the event loop goroutine touches it.
	lastDecided dagbft.Slot

	// lastProposedRound prevents producing two blocks in the same round.
	lastProposedRound dagbft.Round
}

// New returns the consensus core for the given local authority.
// Dependencies are resolved through the module system.
func New(ownIndex dagbft.AuthorityIndex) *Consensus {
	return &Consensus{ownIndex: ownIndex}
}

// InitModule gives the consensus core access to the modules it depends on and
// registers the decision pipeline on the event loop.
func (c *Consensus) InitModule(mods *modules.Core) {
	mods.Get(
		&c.logger,
		&c.committee,
		&c.eventLoop,
		&c.dag,
		&c.committer,
		&c.linearizer,
		&c.schedule,
	)

	c.eventLoop.RegisterHandler(dagbft.BlockAcceptedEvent{}, func(any) {
		c.tryCommit()
	})
}

// OnReceivedBlock validates a block received from a peer and accepts it into
// the DAG. Accepting a known block again is a harmless no-op.
func (c *Consensus) OnReceivedBlock(block *dagbft.VerifiedBlock) error {
	if err := c.verifyBlock(block); err != nil {
		return err
	}
	if c.dag.ContainsBlock(block.Ref()) {
		return nil
	}
	c.dag.AcceptBlock(block)
	c.eventLoop.AddEvent(dagbft.BlockAcceptedEvent{Block: block})
	return nil
}

// verifyBlock checks the structural validity of a block. Signature and wire
// format checks belong to the transport layer; by the time a block gets here
// it is assumed authenticated.
func (c *Consensus) verifyBlock(block *dagbft.VerifiedBlock) error {
	if !c.committee.Exists(block.Author()) {
		return fmt.Errorf("block %s has unknown author %d", block, block.Author())
	}
	if block.Round() == dagbft.GenesisRound {
		return fmt.Errorf("block %s is at the genesis round", block)
	}
	seen := make(map[dagbft.AuthorityIndex]bool)
	parents := dagbft.NewStakeAggregator(c.committee)
	for _, ref := range block.Ancestors() {
		if ref.Round >= block.Round() {
			return fmt.Errorf("block %s has ancestor %s at a later or equal round", block, ref)
		}
		if !c.committee.Exists(ref.Author) {
			return fmt.Errorf("block %s has ancestor %s with unknown author", block, ref)
		}
		if seen[ref.Author] {
			return fmt.Errorf("block %s has multiple ancestors from authority %d", block, ref.Author)
		}
		seen[ref.Author] = true
		if ref.Round == block.Round()-1 {
			parents.Add(ref.Author)
		}
	}
	if !parents.ReachedQuorum() {
		return fmt.Errorf("block %s lacks a quorum of parents at round %d", block, block.Round()-1)
	}
	return nil
}

// TryProduceBlock creates, accepts, and announces the local authority's next
// block once the previous round holds a quorum of stake. It returns false
// when the DAG is not ready to advance or this authority already produced a
// block for the next round.
func (c *Consensus) TryProduceBlock(payload []byte) (*dagbft.VerifiedBlock, bool) {
	// Blocks are only produced at the DAG frontier. An authority that fell
	// behind does not backfill its own slots at earlier rounds; it joins at
	// the round above the current highest and its skipped slots stay empty.
	highest := c.dag.HighestAcceptedRound()
	round := highest + 1
	if round <= c.lastProposedRound {
		return nil, false
	}

	quorum := dagbft.NewStakeAggregator(c.committee)
	if highest == dagbft.GenesisRound {
		// every authority has a genesis block
		for i := 0; i < c.committee.Size(); i++ {
			quorum.Add(dagbft.AuthorityIndex(i))
		}
	} else {
		for _, parent := range c.dag.GetBlocksAtRound(highest) {
			quorum.Add(parent.Author())
		}
	}
	if !quorum.ReachedQuorum() {
		return nil, false
	}

	ancestors := c.dag.GetLastCachedBlockPerAuthority(round)
	refs := make([]dagbft.BlockRef, len(ancestors))
	for i, ancestor := range ancestors {
		refs[i] = ancestor.Ref()
	}

	timestamp := uint64(time.Now().UnixMilli())
	block := dagbft.NewBlock(round, c.ownIndex, refs, payload, timestamp)
	c.dag.AcceptBlock(block)
	c.lastProposedRound = round
	c.eventLoop.AddEvent(dagbft.BlockAcceptedEvent{Block: block, Own: true})
	c.logger.Debugf("produced block %s", block)
	return block, true
}

// tryCommit advances the decided leader sequence as far as the DAG allows and
// linearizes the newly committed leaders. Runs on the event loop goroutine.
//
// Decisions are applied one leader at a time: a commit can rebuild the
// reputation swap table, and the leaders of later rounds must be derived from
// the commit prefix preceding them. Taking a whole decision batch against one
// schedule snapshot would let nodes that process the same DAG in differently
// sized batches commit different sequences.
func (c *Consensus) tryCommit() {
	advanced := false
	for {
		decided := c.committer.TryDecide(c.lastDecided)
		if len(decided) == 0 {
			break
		}
		advanced = true
		c.lastDecided = decided[0].Slot
		for _, subdag := range c.linearizer.HandleCommit(decided[:1]) {
			c.schedule.AddCommittedSubDag(subdag)
			c.eventLoop.AddEvent(dagbft.CommittedSubDagEvent{SubDag: subdag})
			c.logger.Infof("committed %s", subdag)
		}
	}
	if advanced {
		c.dag.Flush()
	}
}

// LastDecided returns the highest decided leader slot.
func (c *Consensus) LastDecided() dagbft.Slot {
	return c.lastDecided
}
