package leaderschedule

import (
	"io"
	"testing"

	"github.com/relab/dagbft"
	"github.com/relab/dagbft/logging"
)

func testLogger(t *testing.T) logging.Logger {
	t.Helper()
	return logging.NewWithDest(io.Discard, t.Name())
}

func TestLeaderIsDeterministic(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	s1 := New(committee, testLogger(t))
	s2 := New(committee, testLogger(t))

	for round := dagbft.Round(1); round <= 100; round++ {
		if got, want := s1.Leader(round, 0), s2.Leader(round, 0); got != want {
			t.Fatalf("schedules disagree at round %d: %d vs %d", round, got, want)
		}
	}
}

func TestLeaderIndexesDiffer(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	s := New(committee, testLogger(t))

	// with multiple leaders per round at least some rounds must spread the
	// leader indexes over different authorities
	differ := false
	for round := dagbft.Round(1); round <= 20; round++ {
		if s.Leader(round, 0) != s.Leader(round, 1) {
			differ = true
			break
		}
	}
	if !differ {
		t.Error("leader index never influenced the selected leader")
	}
}

func TestLeaderIsStakeWeighted(t *testing.T) {
	committee := dagbft.NewCommittee([]dagbft.Stake{1, 1, 1, 97})
	s := New(committee, testLogger(t))

	heavy := 0
	for round := dagbft.Round(1); round <= 1000; round++ {
		if s.Leader(round, 0) == 3 {
			heavy++
		}
	}
	if heavy < 800 {
		t.Errorf("authority with 97%% stake led only %d of 1000 rounds", heavy)
	}
}

func TestNewLeaderSwapTable(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	scores := NewReputationScores(committee)
	for author := dagbft.AuthorityIndex(1); author <= 3; author++ {
		for i := 0; i < 10; i++ {
			scores.addSubDag(&dagbft.CommittedSubDag{
				Blocks: []*dagbft.VerifiedBlock{dagbft.NewBlock(1, author, nil, nil, 0)},
			})
		}
	}

	table := NewLeaderSwapTable(committee, scores)
	if !table.badNodes[0] {
		t.Error("lowest scoring authority not swapped out")
	}
	if len(table.badNodes) != 1 {
		t.Errorf("swapped out %d authorities, want 1 within the stake limit", len(table.badNodes))
	}

	swapped, ok := table.swap(7, 0)
	if !ok {
		t.Fatal("swap(7, 0) = false, want a replacement for the bad leader")
	}
	if table.badNodes[swapped] {
		t.Errorf("swap returned bad node %d", swapped)
	}
	if _, ok := table.swap(7, 1); ok {
		t.Error("swap replaced a leader that was not swapped out")
	}
}

func TestEmptySwapTableSwapsNothing(t *testing.T) {
	var table LeaderSwapTable
	if _, ok := table.swap(1, 0); ok {
		t.Error("zero value swap table swapped a leader")
	}
}

func TestScheduleUpdatesAfterInterval(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	s := New(committee, testLogger(t), WithUpdateInterval(2))

	subdag := &dagbft.CommittedSubDag{Blocks: []*dagbft.VerifiedBlock{
		dagbft.NewBlock(1, 1, nil, nil, 0),
		dagbft.NewBlock(1, 2, nil, nil, 0),
		dagbft.NewBlock(1, 3, nil, nil, 0),
	}}

	s.AddCommittedSubDag(subdag)
	if len(s.SwapTable().badNodes) != 0 {
		t.Fatal("swap table updated before the interval elapsed")
	}

	s.AddCommittedSubDag(subdag)
	table := s.SwapTable()
	if !table.badNodes[0] {
		t.Error("authority without committed blocks not swapped out after update")
	}

	// the new scoring window starts from zero
	s.mut.RLock()
	commits := s.commits
	s.mut.RUnlock()
	if commits != 0 {
		t.Errorf("scoring window not reset: %d commits carried over", commits)
	}
}
