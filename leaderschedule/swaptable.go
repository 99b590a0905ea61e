package leaderschedule

import (
	"fmt"
	"sort"

	"github.com/relab/dagbft"
)

// swapStakePct is the percentage of total stake whose authorities are
// considered "bad" (swapped out) and "good" (swapped in) when a new swap
// table is built.
const swapStakePct = 33

// ReputationScores tracks how many blocks each authority got committed during
// the current scoring window. Authorities whose blocks rarely reach the commit
// sequence are either slow or withholding, and make poor leaders.
type ReputationScores struct {
	scores []uint64
}

// NewReputationScores returns zeroed scores for the committee.
func NewReputationScores(committee *dagbft.Committee) *ReputationScores {
	return &ReputationScores{scores: make([]uint64, committee.Size())}
}

func (r *ReputationScores) addSubDag(subdag *dagbft.CommittedSubDag) {
	for _, block := range subdag.Blocks {
		r.scores[block.Author()]++
	}
}

// Score returns the score of the given authority.
func (r *ReputationScores) Score(author dagbft.AuthorityIndex) uint64 {
	return r.scores[author]
}

// LeaderSwapTable is an immutable snapshot of the reputation overlay.
// The zero value swaps nothing.
type LeaderSwapTable struct {
	goodNodes []dagbft.AuthorityIndex
	badNodes  map[dagbft.AuthorityIndex]bool
}

// NewLeaderSwapTable builds a swap table from the scores of the closing
// scoring window. The lowest scoring authorities, up to swapStakePct of total
// stake, are swapped out for the highest scoring ones.
func NewLeaderSwapTable(committee *dagbft.Committee, scores *ReputationScores) *LeaderSwapTable {
	order := make([]dagbft.AuthorityIndex, committee.Size())
	for i := range order {
		order[i] = dagbft.AuthorityIndex(i)
	}
	// ascending by score; ties broken by index for determinism
	sort.Slice(order, func(i, j int) bool {
		if scores.Score(order[i]) != scores.Score(order[j]) {
			return scores.Score(order[i]) < scores.Score(order[j])
		}
		return order[i] < order[j]
	})

	stakeLimit := committee.TotalStake() * swapStakePct / 100

	table := &LeaderSwapTable{badNodes: make(map[dagbft.AuthorityIndex]bool)}

	var stake dagbft.Stake
	for _, author := range order {
		if stake+committee.Stake(author) > stakeLimit {
			break
		}
		stake += committee.Stake(author)
		table.badNodes[author] = true
	}

	stake = 0
	for i := len(order) - 1; i >= 0; i-- {
		author := order[i]
		if stake+committee.Stake(author) > stakeLimit || table.badNodes[author] {
			break
		}
		stake += committee.Stake(author)
		table.goodNodes = append(table.goodNodes, author)
	}
	sort.Slice(table.goodNodes, func(i, j int) bool { return table.goodNodes[i] < table.goodNodes[j] })

	return table
}

// swap returns the replacement leader for the round if the given leader is
// swapped out, deterministically picked among the good nodes.
func (t *LeaderSwapTable) swap(round dagbft.Round, leader dagbft.AuthorityIndex) (dagbft.AuthorityIndex, bool) {
	if len(t.goodNodes) == 0 || !t.badNodes[leader] {
		return 0, false
	}
	return t.goodNodes[int(round)%len(t.goodNodes)], true
}

func (t *LeaderSwapTable) String() string {
	bad := make([]dagbft.AuthorityIndex, 0, len(t.badNodes))
	for author := range t.badNodes {
		bad = append(bad, author)
	}
	sort.Slice(bad, func(i, j int) bool { return bad[i] < bad[j] })
	return fmt.Sprintf("SwapTable{good: %v, bad: %v}", t.goodNodes, bad)
}
