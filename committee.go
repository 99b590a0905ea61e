package dagbft

import "fmt"

// Stake is the voting power of an authority.
type Stake uint64

// Committee holds the stake distribution of the fixed set of authorities
// participating in consensus. It is immutable for the lifetime of an epoch.
type Committee struct {
	stakes []Stake
	total  Stake
}

// NewCommittee creates a committee from the given stake distribution.
// The authority at index i holds stakes[i].
func NewCommittee(stakes []Stake) *Committee {
	if len(stakes) == 0 {
		panic("committee must have at least one authority")
	}
	c := &Committee{stakes: stakes}
	for _, s := range stakes {
		c.total += s
	}
	return c
}

// NewEqualCommittee creates a committee of n authorities with one stake each.
func NewEqualCommittee(n int) *Committee {
	stakes := make([]Stake, n)
	for i := range stakes {
		stakes[i] = 1
	}
	return NewCommittee(stakes)
}

// Size returns the number of authorities in the committee.
func (c *Committee) Size() int {
	return len(c.stakes)
}

// Stake returns the stake of the given authority.
func (c *Committee) Stake(i AuthorityIndex) Stake {
	return c.stakes[i]
}

// TotalStake returns the sum of all stake in the committee.
func (c *Committee) TotalStake() Stake {
	return c.total
}

// QuorumThreshold returns the stake required for a quorum (2f+1 out of 3f+1).
func (c *Committee) QuorumThreshold() Stake {
	return 2*c.total/3 + 1
}

// ValidityThreshold returns the stake guaranteed to contain at least one
// honest authority (f+1 out of 3f+1).
func (c *Committee) ValidityThreshold() Stake {
	return (c.total-1)/3 + 1
}

// Exists reports whether the authority index is a member of the committee.
func (c *Committee) Exists(i AuthorityIndex) bool {
	return int(i) < len(c.stakes)
}

func (c *Committee) String() string {
	return fmt.Sprintf("Committee{size: %d, total stake: %d}", c.Size(), c.total)
}

// StakeAggregator accumulates stake from distinct authorities.
// Stake from the same authority is only counted once,
// so equivocating blocks cannot inflate an aggregate.
type StakeAggregator struct {
	committee *Committee
	seen      map[AuthorityIndex]bool
	stake     Stake
}

// NewStakeAggregator creates an empty aggregator over the given committee.
func NewStakeAggregator(committee *Committee) *StakeAggregator {
	return &StakeAggregator{
		committee: committee,
		seen:      make(map[AuthorityIndex]bool),
	}
}

// Add adds the stake of the authority unless it was added before.
func (a *StakeAggregator) Add(i AuthorityIndex) {
	if a.seen[i] {
		return
	}
	a.seen[i] = true
	a.stake += a.committee.Stake(i)
}

// Stake returns the aggregated stake.
func (a *StakeAggregator) Stake() Stake {
	return a.stake
}

// ReachedQuorum reports whether the aggregate meets the quorum threshold.
func (a *StakeAggregator) ReachedQuorum() bool {
	return a.stake >= a.committee.QuorumThreshold()
}
