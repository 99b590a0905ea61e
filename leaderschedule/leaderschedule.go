// Package leaderschedule provides the deterministic round-to-leader mapping
// used by the commit rule. The base schedule is a stake-weighted pseudorandom
// permutation seeded by the round number, so all committee members agree on it
// without communication. A reputation overlay (LeaderSwapTable) swaps
// authorities with poor recent performance out of the schedule for a scoring
// window. The overlay is purely a liveness optimization: the commit rule is
// correct regardless of which authority leads a round.
package leaderschedule

import (
	"math/rand"
	"sync"

	wr "github.com/mroth/weightedrand"
	"github.com/relab/dagbft"
	"github.com/relab/dagbft/logging"
)

// DefaultUpdateInterval is the number of commits between swap table updates.
const DefaultUpdateInterval = 300

// Option configures a LeaderSchedule.
type Option func(*LeaderSchedule)

// WithUpdateInterval overrides the number of commits per scoring window.
func WithUpdateInterval(commits int) Option {
	return func(s *LeaderSchedule) { s.updateInterval = commits }
}

// LeaderSchedule maps (round, leader index) to an authority.
type LeaderSchedule struct {
	logger    logging.Logger
	committee *dagbft.Committee
	chooser   *wr.Chooser

	updateInterval int

	mut       sync.RWMutex // protects the fields below
	swapTable *LeaderSwapTable
	scores    *ReputationScores
	commits   int
}

// New creates a leader schedule for the committee with an empty swap table.
func New(committee *dagbft.Committee, logger logging.Logger, opts ...Option) *LeaderSchedule {
	choices := make([]wr.Choice, 0, committee.Size())
	for i := 0; i < committee.Size(); i++ {
		choices = append(choices, wr.Choice{
			Item:   dagbft.AuthorityIndex(i),
			Weight: uint(committee.Stake(dagbft.AuthorityIndex(i))),
		})
	}
	chooser, err := wr.NewChooser(choices...)
	if err != nil {
		panic(err)
	}

	s := &LeaderSchedule{
		logger:         logger,
		committee:      committee,
		chooser:        chooser,
		updateInterval: DefaultUpdateInterval,
		swapTable:      &LeaderSwapTable{},
		scores:         NewReputationScores(committee),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Leader returns the authority leading the given round at the given leader
// index. It is a total function: every round has a leader.
func (s *LeaderSchedule) Leader(round dagbft.Round, leaderIndex int) dagbft.AuthorityIndex {
	seed := int64(round)<<8 | int64(leaderIndex&0xff)
	rnd := rand.New(rand.NewSource(seed))
	leader := s.chooser.PickSource(rnd).(dagbft.AuthorityIndex)

	s.mut.RLock()
	defer s.mut.RUnlock()
	if swapped, ok := s.swapTable.swap(round, leader); ok {
		return swapped
	}
	return leader
}

// AddCommittedSubDag feeds a committed sub-DAG into the reputation scores.
// Every updateInterval commits the swap table snapshot is rebuilt and the
// scoring window starts over. Since all committee members observe the same
// commit sequence, the snapshots are identical everywhere and leader selection
// stays reproducible after the fact.
func (s *LeaderSchedule) AddCommittedSubDag(subdag *dagbft.CommittedSubDag) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.scores.addSubDag(subdag)
	s.commits++
	if s.commits < s.updateInterval {
		return
	}

	s.swapTable = NewLeaderSwapTable(s.committee, s.scores)
	s.scores = NewReputationScores(s.committee)
	s.commits = 0
	s.logger.Infof("updated leader swap table: %v", s.swapTable)
}

// SwapTable returns the current swap table snapshot.
func (s *LeaderSchedule) SwapTable() *LeaderSwapTable {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return s.swapTable
}
