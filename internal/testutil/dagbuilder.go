// Package testutil provides helpers for building block DAGs in tests.
package testutil

import (
	"fmt"

	"github.com/relab/dagbft"
)

// DagBuilder constructs layered block DAGs for tests. Each round is built on
// top of the previous one; helpers exist to leave authorities out of a round
// and to add equivocating blocks. The builder only creates blocks; feeding
// them to a DagState is up to the test.
type DagBuilder struct {
	committee *dagbft.Committee
	blocks    []*dagbft.VerifiedBlock
	lastRound dagbft.Round

	// refs per round, in creation order; round 0 holds the genesis refs
	layers map[dagbft.Round][]dagbft.BlockRef
}

// NewDagBuilder returns a builder seeded with the genesis layer.
func NewDagBuilder(committee *dagbft.Committee) *DagBuilder {
	b := &DagBuilder{
		committee: committee,
		layers:    map[dagbft.Round][]dagbft.BlockRef{},
	}
	for _, block := range dagbft.GenesisBlocks(committee) {
		b.layers[dagbft.GenesisRound] = append(b.layers[dagbft.GenesisRound], block.Ref())
	}
	return b
}

// AddRound adds a fully connected round: every authority produces one block
// referencing all blocks of the previous round.
func (b *DagBuilder) AddRound() *DagBuilder {
	authors := make([]dagbft.AuthorityIndex, b.committee.Size())
	for i := range authors {
		authors[i] = dagbft.AuthorityIndex(i)
	}
	return b.AddRoundWithAuthors(authors...)
}

// AddRounds adds n fully connected rounds.
func (b *DagBuilder) AddRounds(n int) *DagBuilder {
	for i := 0; i < n; i++ {
		b.AddRound()
	}
	return b
}

// AddRoundWithAuthors adds a round in which only the given authorities
// produce blocks, each referencing all blocks of the previous round.
func (b *DagBuilder) AddRoundWithAuthors(authors ...dagbft.AuthorityIndex) *DagBuilder {
	round := b.lastRound + 1
	ancestors := append([]dagbft.BlockRef(nil), b.layers[b.lastRound]...)
	for _, author := range authors {
		b.addBlock(round, author, ancestors, nil)
	}
	return b
}

// AddBlock adds a single block with explicit ancestors.
func (b *DagBuilder) AddBlock(round dagbft.Round, author dagbft.AuthorityIndex, ancestors []dagbft.BlockRef, payload []byte) *dagbft.VerifiedBlock {
	return b.addBlock(round, author, ancestors, payload)
}

// RefsAtRound returns the refs of all blocks built at the given round.
func (b *DagBuilder) RefsAtRound(round dagbft.Round) []dagbft.BlockRef {
	return append([]dagbft.BlockRef(nil), b.layers[round]...)
}

// AddEquivocatingBlock adds a second block for the author at the given round,
// distinguished by its payload. The block references all blocks of the
// preceding round.
func (b *DagBuilder) AddEquivocatingBlock(round dagbft.Round, author dagbft.AuthorityIndex, payload []byte) *dagbft.VerifiedBlock {
	if len(payload) == 0 {
		payload = []byte(fmt.Sprintf("equivocation %d/%d", round, author))
	}
	var ancestors []dagbft.BlockRef
	for _, ref := range b.layers[round-1] {
		ancestors = append(ancestors, ref)
	}
	return b.addBlock(round, author, ancestors, payload)
}

func (b *DagBuilder) addBlock(round dagbft.Round, author dagbft.AuthorityIndex, ancestors []dagbft.BlockRef, payload []byte) *dagbft.VerifiedBlock {
	// timestamps grow with rounds so commit timestamps stay monotonic
	block := dagbft.NewBlock(round, author, ancestors, payload, uint64(round)*1000)
	b.blocks = append(b.blocks, block)
	b.layers[round] = append(b.layers[round], block.Ref())
	if round > b.lastRound {
		b.lastRound = round
	}
	return block
}

// Blocks returns all non-genesis blocks in creation order.
func (b *DagBuilder) Blocks() []*dagbft.VerifiedBlock {
	return b.blocks
}

// LastRound returns the highest round the builder has produced.
func (b *DagBuilder) LastRound() dagbft.Round {
	return b.lastRound
}

// BlockAt returns the first created block of the given slot.
func (b *DagBuilder) BlockAt(slot dagbft.Slot) *dagbft.VerifiedBlock {
	for _, block := range b.blocks {
		if block.Slot() == slot {
			return block
		}
	}
	return nil
}

// Accepter accepts blocks, typically a DagState.
type Accepter interface {
	AcceptBlock(block *dagbft.VerifiedBlock)
}

// AcceptAll feeds all built blocks to the accepter in creation order.
func (b *DagBuilder) AcceptAll(dst Accepter) {
	for _, block := range b.blocks {
		dst.AcceptBlock(block)
	}
}
