// Package storage provides durable persistence for accepted blocks and
// commits. The in-memory DagState is a cache over a Store; on restart the
// DagState is rehydrated from it with all invariants intact.
package storage

import (
	"github.com/relab/dagbft"
)

// Store is the persistence interface used by the consensus core.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBlocks durably stores the given blocks.
	WriteBlocks(blocks []*dagbft.VerifiedBlock) error

	// WriteCommits durably stores the given commits.
	WriteCommits(commits []*dagbft.Commit) error

	// ReadBlocks reads the blocks for the given refs.
	// The entry for a ref that is not found is nil.
	ReadBlocks(refs []dagbft.BlockRef) ([]*dagbft.VerifiedBlock, error)

	// ScanBlocksByAuthor returns all stored blocks produced by the given
	// authority at startRound or later, in ascending round order.
	ScanBlocksByAuthor(author dagbft.AuthorityIndex, startRound dagbft.Round) ([]*dagbft.VerifiedBlock, error)

	// ReadLastCommit returns the commit with the highest index,
	// or nil if no commit is stored.
	ReadLastCommit() (*dagbft.Commit, error)

	// ScanCommits returns the stored commits with start <= index <= end,
	// in ascending index order.
	ScanCommits(start, end dagbft.CommitIndex) ([]*dagbft.Commit, error)

	// Close releases the resources held by the store.
	Close() error
}
