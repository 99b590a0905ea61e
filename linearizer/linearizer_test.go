package linearizer_test

import (
	"io"
	"testing"

	"github.com/relab/dagbft"
	"github.com/relab/dagbft/dagstate"
	"github.com/relab/dagbft/internal/testutil"
	"github.com/relab/dagbft/linearizer"
	"github.com/relab/dagbft/logging"
	"github.com/relab/dagbft/metrics"
	"github.com/relab/dagbft/modules"
	"github.com/relab/dagbft/storage"
)

func newLinearizer(t *testing.T, committee *dagbft.Committee) (*linearizer.Linearizer, *dagstate.DagState) {
	t.Helper()
	logger := logging.NewWithDest(io.Discard, t.Name())
	dag := dagstate.New(committee, 0, storage.NewMemStore(), logger, metrics.NewNopConsensus())
	l := linearizer.New()

	builder := modules.NewBuilder()
	builder.Add(logger, metrics.NewNopConsensus(), dag, l)
	builder.Build()

	return l, dag
}

func TestCommitCollectsFullCausalHistory(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	l, dag := newLinearizer(t, committee)

	builder := testutil.NewDagBuilder(committee).AddRounds(3)
	builder.AcceptAll(dag)
	leader := builder.BlockAt(dagbft.Slot{Round: 3, Author: 1})

	subdags := l.HandleCommit([]dagbft.DecidedLeader{dagbft.NewCommitDecision(leader)})
	if len(subdags) != 1 {
		t.Fatalf("got %d sub-DAGs, want 1", len(subdags))
	}
	subdag := subdags[0]

	// rounds 1 and 2 in full, plus the leader itself
	wantBlocks := 2*committee.Size() + 1
	if len(subdag.Blocks) != wantBlocks {
		t.Errorf("sub-DAG has %d blocks, want %d", len(subdag.Blocks), wantBlocks)
	}
	if subdag.Leader != leader.Ref() {
		t.Errorf("sub-DAG leader %s, want %s", subdag.Leader, leader.Ref())
	}
	if subdag.CommitIndex != 1 {
		t.Errorf("commit index %d, want 1", subdag.CommitIndex)
	}
	for i := 1; i < len(subdag.Blocks); i++ {
		if subdag.Blocks[i-1].Ref().Compare(subdag.Blocks[i].Ref()) >= 0 {
			t.Fatalf("sub-DAG blocks out of order at %d: %s before %s",
				i, subdag.Blocks[i-1], subdag.Blocks[i])
		}
	}
	if got := dag.LastCommitIndex(); got != 1 {
		t.Errorf("LastCommitIndex() = %d, want 1", got)
	}
}

func TestSecondCommitExcludesCommittedHistory(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	l, dag := newLinearizer(t, committee)

	builder := testutil.NewDagBuilder(committee).AddRounds(4)
	builder.AcceptAll(dag)
	first := builder.BlockAt(dagbft.Slot{Round: 3, Author: 0})
	second := builder.BlockAt(dagbft.Slot{Round: 4, Author: 2})

	subdags := l.HandleCommit([]dagbft.DecidedLeader{
		dagbft.NewCommitDecision(first),
		dagbft.NewCommitDecision(second),
	})
	if len(subdags) != 2 {
		t.Fatalf("got %d sub-DAGs, want 2", len(subdags))
	}

	// every block must appear exactly once across the two sub-DAGs
	seen := make(map[dagbft.BlockRef]int)
	for _, subdag := range subdags {
		for _, block := range subdag.Blocks {
			seen[block.Ref()]++
		}
	}
	for ref, count := range seen {
		if count != 1 {
			t.Errorf("block %s appears %d times in the commit sequence", ref, count)
		}
	}
	// the union covers all of rounds 1..3 plus the round 4 blocks in the
	// second leader's history
	for _, block := range builder.Blocks() {
		if block.Round() <= 3 && seen[block.Ref()] == 0 {
			t.Errorf("block %s missing from the commit sequence", block.Ref())
		}
	}
	if subdags[1].CommitIndex != 2 {
		t.Errorf("second commit index %d, want 2", subdags[1].CommitIndex)
	}
}

func TestEquivocatingSiblingIsNeverCommittedTwice(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	l, dag := newLinearizer(t, committee)

	builder := testutil.NewDagBuilder(committee).AddRounds(2)
	sibling := builder.AddEquivocatingBlock(2, 3, []byte("fork"))
	builder.AcceptAll(dag)
	original := builder.BlockAt(dagbft.Slot{Round: 2, Author: 3})

	subdags := l.HandleCommit([]dagbft.DecidedLeader{dagbft.NewCommitDecision(original)})
	if len(subdags) != 1 {
		t.Fatalf("got %d sub-DAGs for the first commit, want 1", len(subdags))
	}

	// a later decision batch naming the sibling must produce no output
	subdags = l.HandleCommit([]dagbft.DecidedLeader{dagbft.NewCommitDecision(sibling)})
	if len(subdags) != 0 {
		t.Fatalf("sibling at a committed slot produced %d sub-DAGs, want 0", len(subdags))
	}
	if dag.IsCommitted(sibling.Ref()) {
		t.Error("sibling was marked committed")
	}
	if got := dag.LastCommitIndex(); got != 1 {
		t.Errorf("LastCommitIndex() = %d, want 1", got)
	}
}

func TestSiblingsInOneBatchCommitOnce(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	l, dag := newLinearizer(t, committee)

	builder := testutil.NewDagBuilder(committee).AddRounds(2)
	sibling := builder.AddEquivocatingBlock(2, 3, []byte("fork"))
	builder.AcceptAll(dag)
	original := builder.BlockAt(dagbft.Slot{Round: 2, Author: 3})

	subdags := l.HandleCommit([]dagbft.DecidedLeader{
		dagbft.NewCommitDecision(original),
		dagbft.NewCommitDecision(sibling),
	})
	if len(subdags) != 1 {
		t.Fatalf("got %d sub-DAGs, want 1", len(subdags))
	}
	if subdags[0].Leader != original.Ref() {
		t.Errorf("committed %s, want %s", subdags[0].Leader, original.Ref())
	}
}

func TestSiblingsInOneClosureCommitOnce(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	l, dag := newLinearizer(t, committee)

	builder := testutil.NewDagBuilder(committee).AddRounds(2)
	original := builder.BlockAt(dagbft.Slot{Round: 2, Author: 3})
	sibling := builder.AddEquivocatingBlock(2, 3, []byte("fork"))

	// two disjoint paths through round 3, one per sibling, joined by the
	// round 4 leader
	var base []dagbft.BlockRef
	for _, ref := range builder.RefsAtRound(2) {
		if ref.Author != 3 {
			base = append(base, ref)
		}
	}
	onOriginal := builder.AddBlock(3, 0, append(append([]dagbft.BlockRef(nil), base...), original.Ref()), nil)
	onSibling := builder.AddBlock(3, 1, append(append([]dagbft.BlockRef(nil), base...), sibling.Ref()), nil)
	leader := builder.AddBlock(4, 2, []dagbft.BlockRef{onOriginal.Ref(), onSibling.Ref()}, nil)
	builder.AcceptAll(dag)

	subdags := l.HandleCommit([]dagbft.DecidedLeader{dagbft.NewCommitDecision(leader)})
	if len(subdags) != 1 {
		t.Fatalf("got %d sub-DAGs, want 1", len(subdags))
	}

	slot := dagbft.Slot{Round: 2, Author: 3}
	atSlot := 0
	for _, block := range subdags[0].Blocks {
		if block.Slot() == slot {
			atSlot++
		}
	}
	if atSlot != 1 {
		t.Errorf("%d blocks at the equivocated slot in the sub-DAG, want 1", atSlot)
	}
	if dag.IsCommitted(original.Ref()) && dag.IsCommitted(sibling.Ref()) {
		t.Error("both equivocating siblings were marked committed")
	}
	if !dag.IsAnyBlockAtSlotCommitted(slot) {
		t.Error("no block at the equivocated slot was marked committed")
	}
}

func TestHandleCommitIsIdempotentPerSlot(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	l, dag := newLinearizer(t, committee)

	builder := testutil.NewDagBuilder(committee).AddRounds(2)
	builder.AcceptAll(dag)
	leader := builder.BlockAt(dagbft.Slot{Round: 2, Author: 1})
	decision := []dagbft.DecidedLeader{dagbft.NewCommitDecision(leader)}

	if got := len(l.HandleCommit(decision)); got != 1 {
		t.Fatalf("first HandleCommit produced %d sub-DAGs, want 1", got)
	}
	if got := len(l.HandleCommit(decision)); got != 0 {
		t.Errorf("repeated HandleCommit produced %d sub-DAGs, want 0", got)
	}
}

func TestSkippedLeadersProduceNoSubDag(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	l, dag := newLinearizer(t, committee)

	builder := testutil.NewDagBuilder(committee).AddRounds(2)
	builder.AcceptAll(dag)
	leader := builder.BlockAt(dagbft.Slot{Round: 2, Author: 0})

	subdags := l.HandleCommit([]dagbft.DecidedLeader{
		dagbft.NewSkipDecision(dagbft.Slot{Round: 1, Author: 2}),
		dagbft.NewCommitDecision(leader),
	})
	if len(subdags) != 1 {
		t.Fatalf("got %d sub-DAGs, want 1", len(subdags))
	}
	if subdags[0].CommitIndex != 1 {
		t.Errorf("commit index %d, want 1", subdags[0].CommitIndex)
	}
}

func TestCommitTimestampsAreMonotonic(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	l, dag := newLinearizer(t, committee)

	builder := testutil.NewDagBuilder(committee).AddRounds(2)
	builder.AcceptAll(dag)
	first := builder.BlockAt(dagbft.Slot{Round: 2, Author: 1})

	// a later leader with an earlier clock
	late := dagbft.NewBlock(3, 0, builder.RefsAtRound(2), nil, 500)
	dag.AcceptBlock(late)

	subdags := l.HandleCommit([]dagbft.DecidedLeader{dagbft.NewCommitDecision(first)})
	firstTimestamp := subdags[0].TimestampMs

	subdags = l.HandleCommit([]dagbft.DecidedLeader{dagbft.NewCommitDecision(late)})
	if got := subdags[0].TimestampMs; got < firstTimestamp {
		t.Errorf("commit timestamp went backwards: %d after %d", got, firstTimestamp)
	}
	if got := subdags[0].TimestampMs; got != firstTimestamp {
		t.Errorf("late leader timestamp not clamped: got %d, want %d", got, firstTimestamp)
	}
}
