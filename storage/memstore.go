package storage

import (
	"sort"
	"sync"

	"github.com/relab/dagbft"
)

// MemStore is an in-memory Store, for use in tests and simulations.
type MemStore struct {
	mut     sync.RWMutex
	blocks  map[dagbft.BlockRef]*dagbft.VerifiedBlock
	commits map[dagbft.CommitIndex]*dagbft.Commit
	last    dagbft.CommitIndex
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		blocks:  make(map[dagbft.BlockRef]*dagbft.VerifiedBlock),
		commits: make(map[dagbft.CommitIndex]*dagbft.Commit),
	}
}

// WriteBlocks stores the given blocks.
func (s *MemStore) WriteBlocks(blocks []*dagbft.VerifiedBlock) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	for _, block := range blocks {
		s.blocks[block.Ref()] = block
	}
	return nil
}

// WriteCommits stores the given commits.
func (s *MemStore) WriteCommits(commits []*dagbft.Commit) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	for _, commit := range commits {
		s.commits[commit.Index] = commit
		if commit.Index > s.last {
			s.last = commit.Index
		}
	}
	return nil
}

// ReadBlocks reads the blocks for the given refs.
func (s *MemStore) ReadBlocks(refs []dagbft.BlockRef) ([]*dagbft.VerifiedBlock, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	blocks := make([]*dagbft.VerifiedBlock, len(refs))
	for i, ref := range refs {
		blocks[i] = s.blocks[ref]
	}
	return blocks, nil
}

// ScanBlocksByAuthor returns the stored blocks of an authority from startRound on.
func (s *MemStore) ScanBlocksByAuthor(author dagbft.AuthorityIndex, startRound dagbft.Round) ([]*dagbft.VerifiedBlock, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	var blocks []*dagbft.VerifiedBlock
	for ref, block := range s.blocks {
		if ref.Author == author && ref.Round >= startRound {
			blocks = append(blocks, block)
		}
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Ref().Compare(blocks[j].Ref()) < 0
	})
	return blocks, nil
}

// ReadLastCommit returns the commit with the highest index, or nil.
func (s *MemStore) ReadLastCommit() (*dagbft.Commit, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	if s.last == dagbft.GenesisCommitIndex {
		return nil, nil
	}
	return s.commits[s.last], nil
}

// ScanCommits returns stored commits with start <= index <= end.
func (s *MemStore) ScanCommits(start, end dagbft.CommitIndex) ([]*dagbft.Commit, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	var commits []*dagbft.Commit
	for i := start; i <= end; i++ {
		if commit, ok := s.commits[i]; ok {
			commits = append(commits, commit)
		}
	}
	return commits, nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}

var _ Store = (*MemStore)(nil)
