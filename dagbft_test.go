package dagbft_test

import (
	"testing"

	"github.com/relab/dagbft"
)

func TestBlockRefCompare(t *testing.T) {
	a := dagbft.BlockRef{Round: 1, Author: 0, Digest: dagbft.Digest{1}}
	b := dagbft.BlockRef{Round: 1, Author: 1, Digest: dagbft.Digest{0}}
	c := dagbft.BlockRef{Round: 2, Author: 0, Digest: dagbft.Digest{0}}
	d := dagbft.BlockRef{Round: 1, Author: 0, Digest: dagbft.Digest{2}}

	if a.Compare(b) >= 0 {
		t.Error("expected lower author to order first within a round")
	}
	if b.Compare(c) >= 0 {
		t.Error("expected lower round to order first")
	}
	if a.Compare(d) >= 0 {
		t.Error("expected lower digest to break ties")
	}
	if a.Compare(a) != 0 {
		t.Error("expected a ref to compare equal to itself")
	}
}

func TestThresholds(t *testing.T) {
	tests := []struct {
		stakes       []dagbft.Stake
		wantQuorum   dagbft.Stake
		wantValidity dagbft.Stake
	}{
		{[]dagbft.Stake{1, 1, 1, 1}, 3, 2},
		{[]dagbft.Stake{1, 1, 1, 1, 1, 1, 1}, 5, 3},
		{[]dagbft.Stake{10, 10, 10, 70}, 67, 34},
	}
	for _, tt := range tests {
		committee := dagbft.NewCommittee(tt.stakes)
		if got := committee.QuorumThreshold(); got != tt.wantQuorum {
			t.Errorf("QuorumThreshold(%v) = %d, want %d", tt.stakes, got, tt.wantQuorum)
		}
		if got := committee.ValidityThreshold(); got != tt.wantValidity {
			t.Errorf("ValidityThreshold(%v) = %d, want %d", tt.stakes, got, tt.wantValidity)
		}
	}
}

func TestStakeAggregatorCountsAuthorityOnce(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	agg := dagbft.NewStakeAggregator(committee)

	agg.Add(1)
	agg.Add(1)
	agg.Add(1)
	if agg.ReachedQuorum() {
		t.Error("repeated stake from one authority reached quorum")
	}
	if got := agg.Stake(); got != 1 {
		t.Errorf("Stake() = %d, want 1", got)
	}

	agg.Add(2)
	agg.Add(3)
	if !agg.ReachedQuorum() {
		t.Error("three distinct authorities out of four did not reach quorum")
	}
}

func TestGenesisBlocksAreDeterministic(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	first := dagbft.GenesisBlocks(committee)
	second := dagbft.GenesisBlocks(committee)

	if len(first) != committee.Size() {
		t.Fatalf("got %d genesis blocks, want %d", len(first), committee.Size())
	}
	for i := range first {
		if first[i].Ref() != second[i].Ref() {
			t.Errorf("genesis block %d differs between derivations", i)
		}
		if first[i].Round() != dagbft.GenesisRound {
			t.Errorf("genesis block %d not at the genesis round", i)
		}
	}
}

func TestBlockDigestDependsOnContent(t *testing.T) {
	same := func() *dagbft.VerifiedBlock {
		return dagbft.NewBlock(1, 2, nil, []byte("payload"), 42)
	}
	if same().Ref() != same().Ref() {
		t.Error("identical blocks produced different digests")
	}

	other := dagbft.NewBlock(1, 2, nil, []byte("other"), 42)
	if other.Ref() == same().Ref() {
		t.Error("blocks with different payloads share a digest")
	}
	if other.Ref().Slot() != same().Ref().Slot() {
		t.Error("blocks at the same slot report different slots")
	}
}
