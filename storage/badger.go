package storage

import (
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/relab/dagbft"
	"go.uber.org/multierr"
)

const (
	blockKeyPrefix  = 'b'
	commitKeyPrefix = 'c'

	// blockCacheSize bounds the read-through cache of decoded blocks.
	blockCacheSize = 4096
)

// BadgerStore is a Store backed by a badger key-value database.
// Decoded blocks are kept in an LRU cache to avoid repeated deserialization
// when the DagState reads below its in-memory window.
type BadgerStore struct {
	db    *badger.DB
	cache *lru.Cache // dagbft.BlockRef -> *dagbft.VerifiedBlock
}

// OpenBadger opens (or creates) a badger-backed store at the given path.
func OpenBadger(path string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	cache, err := lru.New(blockCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BadgerStore{db: db, cache: cache}, nil
}

func blockKey(ref dagbft.BlockRef) []byte {
	key := make([]byte, 1+4+4+32)
	key[0] = blockKeyPrefix
	binary.BigEndian.PutUint32(key[1:5], uint32(ref.Author))
	binary.BigEndian.PutUint32(key[5:9], uint32(ref.Round))
	copy(key[9:], ref.Digest[:])
	return key
}

func commitKey(index dagbft.CommitIndex) []byte {
	key := make([]byte, 1+4)
	key[0] = commitKeyPrefix
	binary.BigEndian.PutUint32(key[1:], uint32(index))
	return key
}

// WriteBlocks durably stores the given blocks.
func (s *BadgerStore) WriteBlocks(blocks []*dagbft.VerifiedBlock) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, block := range blocks {
			value, err := encodeBlock(block)
			if err != nil {
				return err
			}
			if err := txn.Set(blockKey(block.Ref()), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write blocks: %w", err)
	}
	for _, block := range blocks {
		s.cache.Add(block.Ref(), block)
	}
	return nil
}

// WriteCommits durably stores the given commits.
func (s *BadgerStore) WriteCommits(commits []*dagbft.Commit) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, commit := range commits {
			value, err := encodeCommit(commit)
			if err != nil {
				return err
			}
			if err := txn.Set(commitKey(commit.Index), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write commits: %w", err)
	}
	return nil
}

// ReadBlocks reads the blocks for the given refs. Missing entries are nil.
func (s *BadgerStore) ReadBlocks(refs []dagbft.BlockRef) ([]*dagbft.VerifiedBlock, error) {
	blocks := make([]*dagbft.VerifiedBlock, len(refs))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, ref := range refs {
			if cached, ok := s.cache.Get(ref); ok {
				blocks[i] = cached.(*dagbft.VerifiedBlock)
				continue
			}
			item, err := txn.Get(blockKey(ref))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			block, err := decodeBlock(value)
			if err != nil {
				return err
			}
			blocks[i] = block
			s.cache.Add(ref, block)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read blocks: %w", err)
	}
	return blocks, nil
}

// ScanBlocksByAuthor returns the stored blocks of an authority from startRound
// on, in ascending round order.
func (s *BadgerStore) ScanBlocksByAuthor(author dagbft.AuthorityIndex, startRound dagbft.Round) ([]*dagbft.VerifiedBlock, error) {
	prefix := make([]byte, 1+4)
	prefix[0] = blockKeyPrefix
	binary.BigEndian.PutUint32(prefix[1:], uint32(author))

	start := make([]byte, 1+4+4)
	copy(start, prefix)
	binary.BigEndian.PutUint32(start[5:], uint32(startRound))

	var blocks []*dagbft.VerifiedBlock
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			block, err := decodeBlock(value)
			if err != nil {
				return err
			}
			blocks = append(blocks, block)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan blocks for authority %d: %w", author, err)
	}
	return blocks, nil
}

// ReadLastCommit returns the commit with the highest index, or nil.
func (s *BadgerStore) ReadLastCommit() (commit *dagbft.Commit, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{commitKeyPrefix}
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		// seek past the last possible commit key
		it.Seek(commitKey(dagbft.CommitIndex(^uint32(0))))
		if !it.ValidForPrefix(opts.Prefix) {
			return nil
		}
		value, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		commit, err = decodeCommit(value)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read last commit: %w", err)
	}
	return commit, nil
}

// ScanCommits returns stored commits with start <= index <= end.
func (s *BadgerStore) ScanCommits(start, end dagbft.CommitIndex) ([]*dagbft.Commit, error) {
	var commits []*dagbft.Commit
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{commitKeyPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(commitKey(start)); it.ValidForPrefix(opts.Prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			commit, err := decodeCommit(value)
			if err != nil {
				return err
			}
			if commit.Index > end {
				break
			}
			commits = append(commits, commit)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan commits: %w", err)
	}
	return commits, nil
}

// Close flushes and closes the underlying database.
func (s *BadgerStore) Close() error {
	var err error
	if serr := s.db.Sync(); serr != nil && serr != badger.ErrDBClosed {
		err = multierr.Append(err, serr)
	}
	return multierr.Append(err, s.db.Close())
}

var _ Store = (*BadgerStore)(nil)
