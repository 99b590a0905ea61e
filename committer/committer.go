// Package committer implements the leader-based BFT commit rule over the
// block DAG, in the DAG-Rider/Bullshark/Mysticeti family.
//
// Rounds are grouped into waves of three: the leader round R, the vote round
// R+1, and the decide round R+2. A block at the vote round votes for the
// leader by referencing it. A block at the decide round certifies the leader
// if a quorum of its vote-round ancestors voted for it. The leader is
// committed directly once certifiers holding quorum stake exist, and skipped
// directly once a quorum of vote-round blocks ignored its slot. Leaders that
// cannot be decided directly are decided indirectly through the first later
// leader that was itself committed or remains undecided (the anchor): quorum
// intersection guarantees that a certificate for a committed leader appears
// in the history of every later committed leader.
package committer

import (
	"sort"

	"github.com/relab/dagbft"
	"github.com/relab/dagbft/dagstate"
	"github.com/relab/dagbft/leaderschedule"
	"github.com/relab/dagbft/logging"
	"github.com/relab/dagbft/modules"
)

// waveLength is the number of rounds in a commit wave:
// the leader round, the vote round, and the decide round.
const waveLength dagbft.Round = 3

// Option configures a UniversalCommitter.
type Option func(*UniversalCommitter)

// WithLeadersPerRound sets the number of candidate leaders per round.
// More than one leader improves liveness when leaders are slow.
func WithLeadersPerRound(n int) Option {
	return func(c *UniversalCommitter) { c.leadersPerRound = n }
}

// UniversalCommitter decides the fate of leader slots.
// It only reads DagState and never blocks: when the DAG does not yet hold
// enough information, TryDecide simply returns fewer (or no) decisions.
type UniversalCommitter struct {
	logger    logging.Logger
	committee *dagbft.Committee
	dag       *dagstate.DagState
	schedule  *leaderschedule.LeaderSchedule

	leadersPerRound int
}

// New returns a committer with a single leader per round.
// Dependencies are resolved through the module system.
func New(opts ...Option) *UniversalCommitter {
	c := &UniversalCommitter{leadersPerRound: 1}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitModule gives the committer access to the modules it depends on.
func (c *UniversalCommitter) InitModule(mods *modules.Core) {
	mods.Get(
		&c.logger,
		&c.committee,
		&c.dag,
		&c.schedule,
	)
}

// LeaderSlots returns the leader slots of the round in leader index order.
func (c *UniversalCommitter) LeaderSlots(round dagbft.Round) []dagbft.Slot {
	slots := make([]dagbft.Slot, 0, c.leadersPerRound)
	for li := 0; li < c.leadersPerRound; li++ {
		slots = append(slots, dagbft.Slot{Round: round, Author: c.schedule.Leader(round, li)})
	}
	return slots
}

// TryDecide resumes deciding leader slots immediately after lastDecided and
// returns the newly decided slots in (round, leader index) order. It stops at
// the first slot that cannot be decided yet; decisions never skip a slot.
// Use the genesis slot (zero value) to start from the beginning.
func (c *UniversalCommitter) TryDecide(lastDecided dagbft.Slot) []dagbft.DecidedLeader {
	highest := c.dag.HighestAcceptedRound()

	// Evaluate leader slots from the highest round downwards so that by the
	// time a slot needs an anchor, the statuses of all later leaders are
	// already known. Prepending keeps the slice in ascending order.
	var statuses []dagbft.DecidedLeader
	for round := highest; round > lastDecided.Round && round > dagbft.GenesisRound; round-- {
		for li := c.leadersPerRound - 1; li >= 0; li-- {
			slot := dagbft.Slot{Round: round, Author: c.schedule.Leader(round, li)}
			status := c.tryDirectDecide(slot)
			if status.Status == dagbft.StatusUndecided {
				status = c.tryIndirectDecide(slot, statuses)
			}
			statuses = append([]dagbft.DecidedLeader{status}, statuses...)
		}
	}

	// If the last decided slot was not the round's last leader, the rest of
	// that round still needs deciding.
	if rest := c.remainingInRound(lastDecided); len(rest) > 0 {
		later := statuses
		for i := len(rest) - 1; i >= 0; i-- {
			status := c.tryDirectDecide(rest[i])
			if status.Status == dagbft.StatusUndecided {
				status = c.tryIndirectDecide(rest[i], later)
			}
			statuses = append([]dagbft.DecidedLeader{status}, statuses...)
		}
	}

	// Emit the longest decided prefix: a later round must never be decided
	// before all earlier rounds are decided or skipped.
	var decided []dagbft.DecidedLeader
	for _, status := range statuses {
		if status.Status == dagbft.StatusUndecided {
			break
		}
		c.logger.Debugf("decided %s", status)
		decided = append(decided, status)
	}
	return decided
}

// remainingInRound returns the leader slots of lastDecided's round that come
// after lastDecided in leader index order.
func (c *UniversalCommitter) remainingInRound(lastDecided dagbft.Slot) []dagbft.Slot {
	if lastDecided.Round == dagbft.GenesisRound || c.leadersPerRound == 1 {
		return nil
	}
	slots := c.LeaderSlots(lastDecided.Round)
	for i, slot := range slots {
		if slot == lastDecided {
			return slots[i+1:]
		}
	}
	return nil
}

// tryDirectDecide applies the direct commit and skip rules to a leader slot.
func (c *UniversalCommitter) tryDirectDecide(slot dagbft.Slot) dagbft.DecidedLeader {
	decideRound := slot.Round + waveLength - 1
	if decideRound > c.dag.HighestAcceptedRound() {
		return dagbft.NewUndecided(slot)
	}

	// Direct commit: some candidate block at the slot is certified by a
	// quorum of decide-round blocks. Under equivocation only the certified
	// block may be selected. Two candidates both reaching quorum would
	// imply Byzantine stake at or above quorum, which breaks the fault
	// model; we pick the first in ref order.
	candidates := c.candidateBlocks(slot)
	certifiers := make(map[dagbft.BlockRef]*dagbft.StakeAggregator)
	for _, decider := range c.dag.GetBlocksAtRound(decideRound) {
		for _, candidate := range candidates {
			if c.certifies(decider, candidate.Ref()) {
				agg, ok := certifiers[candidate.Ref()]
				if !ok {
					agg = dagbft.NewStakeAggregator(c.committee)
					certifiers[candidate.Ref()] = agg
				}
				agg.Add(decider.Author())
			}
		}
	}
	for _, candidate := range candidates {
		if agg, ok := certifiers[candidate.Ref()]; ok && agg.ReachedQuorum() {
			return dagbft.NewCommitDecision(candidate)
		}
	}

	// Direct skip: a quorum of vote-round blocks did not vote for the
	// slot, so no certificate can ever reach quorum.
	blame := dagbft.NewStakeAggregator(c.committee)
	for _, voter := range c.dag.GetBlocksAtRound(slot.Round + 1) {
		if !votesFor(voter, slot) {
			blame.Add(voter.Author())
		}
	}
	if blame.ReachedQuorum() {
		return dagbft.NewSkipDecision(slot)
	}

	return dagbft.NewUndecided(slot)
}

// tryIndirectDecide decides a leader slot through an anchor: the first later
// leader, at least a full wave ahead, that was not skipped. A committed
// anchor decides the slot by whether its history contains a certificate for
// one of the slot's blocks; an undecided anchor leaves the slot undecided.
//
// later holds the statuses of all leader slots after this one,
// in ascending order.
func (c *UniversalCommitter) tryIndirectDecide(slot dagbft.Slot, later []dagbft.DecidedLeader) dagbft.DecidedLeader {
	for _, anchor := range later {
		if anchor.Slot.Round < slot.Round+waveLength {
			continue
		}
		switch anchor.Status {
		case dagbft.StatusCommit:
			return c.decideWithAnchor(slot, anchor.Block)
		case dagbft.StatusUndecided:
			return dagbft.NewUndecided(slot)
		case dagbft.StatusSkip:
			// a skipped leader anchors nothing; look further ahead
		}
	}
	return dagbft.NewUndecided(slot)
}

// decideWithAnchor commits the slot if the committed anchor's history
// contains a certificate for one of the slot's blocks, and skips it
// otherwise. Quorum intersection guarantees that if the slot was directly
// committed by anyone, every such anchor history holds a certificate.
func (c *UniversalCommitter) decideWithAnchor(slot dagbft.Slot, anchor *dagbft.VerifiedBlock) dagbft.DecidedLeader {
	candidates := c.candidateBlocks(slot)
	if len(candidates) > 0 {
		decideRound := slot.Round + waveLength - 1
		certificates := c.dag.AncestorsAtRound(anchor, decideRound)
		sort.Slice(certificates, func(i, j int) bool {
			return certificates[i].Ref().Compare(certificates[j].Ref()) < 0
		})
		for _, certificate := range certificates {
			for _, candidate := range candidates {
				if c.certifies(certificate, candidate.Ref()) {
					return dagbft.NewCommitDecision(candidate)
				}
			}
		}
	}
	return dagbft.NewSkipDecision(slot)
}

// candidateBlocks returns the blocks at the leader slot in ref order.
func (c *UniversalCommitter) candidateBlocks(slot dagbft.Slot) []*dagbft.VerifiedBlock {
	candidates := c.dag.GetUncommittedBlocksAtSlot(slot)
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Ref().Compare(candidates[j].Ref()) < 0
	})
	return candidates
}

// certifies reports whether the block at the decide round certifies the
// leader block: a quorum of its vote-round ancestors voted for the leader.
func (c *UniversalCommitter) certifies(decider *dagbft.VerifiedBlock, leader dagbft.BlockRef) bool {
	votes := dagbft.NewStakeAggregator(c.committee)
	for _, ref := range decider.Ancestors() {
		if ref.Round != leader.Round+1 {
			continue
		}
		voter, ok := c.dag.GetBlock(ref)
		if !ok {
			c.logger.Panicf("ancestor %s of decider %s should exist in the DAG", ref, decider)
		}
		// A vote must reference the exact leader block; under equivocation a
		// reference to a sibling at the same slot is not a vote for it.
		if hasAncestor(voter, leader) {
			votes.Add(voter.Author())
		}
	}
	return votes.ReachedQuorum()
}

// votesFor reports whether the voter references any block at the slot.
func votesFor(voter *dagbft.VerifiedBlock, slot dagbft.Slot) bool {
	for _, ref := range voter.Ancestors() {
		if ref.Slot() == slot {
			return true
		}
	}
	return false
}

// hasAncestor reports whether the voter references the exact block.
func hasAncestor(voter *dagbft.VerifiedBlock, ref dagbft.BlockRef) bool {
	for _, ancestor := range voter.Ancestors() {
		if ancestor == ref {
			return true
		}
	}
	return false
}
