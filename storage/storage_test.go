package storage_test

import (
	"testing"

	"github.com/relab/dagbft"
	"github.com/relab/dagbft/internal/testutil"
	"github.com/relab/dagbft/storage"
	"github.com/stretchr/testify/require"
)

// both implementations must behave identically
func stores(t *testing.T) map[string]storage.Store {
	t.Helper()
	badgerStore, err := storage.OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, badgerStore.Close()) })
	return map[string]storage.Store{
		"MemStore":    storage.NewMemStore(),
		"BadgerStore": badgerStore,
	}
}

func TestWriteReadBlocks(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	blocks := testutil.NewDagBuilder(committee).AddRounds(3).Blocks()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.WriteBlocks(blocks))

			refs := make([]dagbft.BlockRef, len(blocks))
			for i, block := range blocks {
				refs[i] = block.Ref()
			}
			got, err := store.ReadBlocks(refs)
			require.NoError(t, err)
			require.Len(t, got, len(blocks))
			for i, block := range got {
				require.NotNil(t, block)
				// the digest must survive the round trip
				require.Equal(t, refs[i], block.Ref())
				require.Equal(t, blocks[i].Ancestors(), block.Ancestors())
				require.Equal(t, blocks[i].TimestampMs(), block.TimestampMs())
			}
		})
	}
}

func TestReadMissingBlockIsNil(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			missing := dagbft.BlockRef{Round: 9, Author: 1}
			got, err := store.ReadBlocks([]dagbft.BlockRef{missing})
			require.NoError(t, err)
			require.Nil(t, got[0])
		})
	}
}

func TestScanBlocksByAuthor(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	blocks := testutil.NewDagBuilder(committee).AddRounds(5).Blocks()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.WriteBlocks(blocks))

			got, err := store.ScanBlocksByAuthor(2, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			for i, block := range got {
				require.Equal(t, dagbft.AuthorityIndex(2), block.Author())
				require.Equal(t, dagbft.Round(i+3), block.Round())
			}

			none, err := store.ScanBlocksByAuthor(2, 6)
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestCommits(t *testing.T) {
	committee := dagbft.NewEqualCommittee(4)
	builder := testutil.NewDagBuilder(committee).AddRounds(3)

	var commits []*dagbft.Commit
	for i := dagbft.CommitIndex(1); i <= 3; i++ {
		leader := builder.BlockAt(dagbft.Slot{Round: dagbft.Round(i), Author: 0})
		commits = append(commits, &dagbft.Commit{
			Index:       i,
			Leader:      leader.Ref(),
			Blocks:      builder.RefsAtRound(dagbft.Round(i)),
			TimestampMs: uint64(i) * 1000,
		})
	}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			last, err := store.ReadLastCommit()
			require.NoError(t, err)
			require.Nil(t, last, "empty store must have no last commit")

			require.NoError(t, store.WriteCommits(commits))

			last, err = store.ReadLastCommit()
			require.NoError(t, err)
			require.Equal(t, commits[2], last)

			got, err := store.ScanCommits(2, 3)
			require.NoError(t, err)
			require.Equal(t, commits[1:], got)

			all, err := store.ScanCommits(1, 100)
			require.NoError(t, err)
			require.Equal(t, commits, all)
		})
	}
}
