// Package dagstate maintains the authoritative view of the block DAG:
// all accepted blocks since the last garbage collection boundary,
// which of them have been committed, and the per-authority commit watermarks.
//
// DagState is the single source of truth for the consensus core. All other
// components interact with the DAG only through its methods; in particular the
// slot-level equivocation guard is enforced here and never delegated to
// callers.
package dagstate

import (
	"fmt"
	"sync"

	"github.com/relab/dagbft"
	"github.com/relab/dagbft/logging"
	"github.com/relab/dagbft/metrics"
	"github.com/relab/dagbft/storage"
)

const (
	// DefaultGCDepth is the number of rounds retained behind the last
	// committed leader round. It is consensus-critical: all committee
	// members must use the same value.
	DefaultGCDepth dagbft.Round = 60

	// DefaultCachedRounds is the number of rounds of blocks kept in memory
	// per authority beyond the GC requirement.
	DefaultCachedRounds dagbft.Round = 500
)

// Option configures a DagState.
type Option func(*DagState)

// WithGCDepth overrides the garbage collection depth.
func WithGCDepth(depth dagbft.Round) Option {
	return func(d *DagState) { d.gcDepth = depth }
}

// WithCachedRounds overrides the number of cached rounds per authority.
func WithCachedRounds(rounds dagbft.Round) Option {
	return func(d *DagState) { d.cachedRounds = rounds }
}

type blockInfo struct {
	block     *dagbft.VerifiedBlock
	committed bool
}

// DagState provides the API to write and read accepted blocks of the DAG.
// Only blocks above the eviction boundary are cached in memory;
// the rest are read from storage.
type DagState struct {
	logger    logging.Logger
	metrics   *metrics.Consensus
	committee *dagbft.Committee
	ownIndex  dagbft.AuthorityIndex
	store     storage.Store

	gcDepth      dagbft.Round
	cachedRounds dagbft.Round

	mut sync.RWMutex // protects all fields below

	genesis map[dagbft.BlockRef]*dagbft.VerifiedBlock

	// recent blocks and their commit status, indexed by ref
	recent map[dagbft.BlockRef]*blockInfo

	// recent refs per authority, ordered by round
	refsByAuthority []refSet

	// highest round evicted per authority; blocks at or below are gone from memory
	evictedRounds []dagbft.Round

	highestAcceptedRound dagbft.Round

	lastCommit          *dagbft.Commit
	lastCommittedRounds []dagbft.Round

	// buffered writes, flushed to storage by Flush
	blocksToWrite  []*dagbft.VerifiedBlock
	commitsToWrite []*dagbft.Commit
}

// New creates a DagState for the given committee, rehydrating accepted blocks
// and committed-slot markers from the store.
func New(
	committee *dagbft.Committee,
	ownIndex dagbft.AuthorityIndex,
	store storage.Store,
	logger logging.Logger,
	consensusMetrics *metrics.Consensus,
	opts ...Option,
) *DagState {
	d := &DagState{
		logger:              logger,
		metrics:             consensusMetrics,
		committee:           committee,
		ownIndex:            ownIndex,
		store:               store,
		gcDepth:             DefaultGCDepth,
		cachedRounds:        DefaultCachedRounds,
		genesis:             make(map[dagbft.BlockRef]*dagbft.VerifiedBlock),
		recent:              make(map[dagbft.BlockRef]*blockInfo),
		refsByAuthority:     make([]refSet, committee.Size()),
		evictedRounds:       make([]dagbft.Round, committee.Size()),
		lastCommittedRounds: make([]dagbft.Round, committee.Size()),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, block := range dagbft.GenesisBlocks(committee) {
		d.genesis[block.Ref()] = block
	}

	d.recover()
	return d
}

// recover rehydrates the in-memory state from storage.
func (d *DagState) recover() {
	lastCommit, err := d.store.ReadLastCommit()
	if err != nil {
		d.logger.Panicf("failed to read from storage: %v", err)
	}
	d.lastCommit = lastCommit

	var commits []*dagbft.Commit
	if lastCommit != nil {
		commits, err = d.store.ScanCommits(dagbft.GenesisCommitIndex+1, lastCommit.Index)
		if err != nil {
			d.logger.Panicf("failed to read from storage: %v", err)
		}
		for _, commit := range commits {
			for _, ref := range commit.Blocks {
				if ref.Round > d.lastCommittedRounds[ref.Author] {
					d.lastCommittedRounds[ref.Author] = ref.Round
				}
			}
		}
	}

	for i := 0; i < d.committee.Size(); i++ {
		author := dagbft.AuthorityIndex(i)
		evictionRound := saturatingSub(d.lastCommittedRounds[author], d.cachedRounds)
		d.evictedRounds[author] = evictionRound

		blocks, err := d.store.ScanBlocksByAuthor(author, evictionRound+1)
		if err != nil {
			d.logger.Panicf("failed to read from storage: %v", err)
		}
		for _, block := range blocks {
			d.updateBlockMetadata(block)
		}
		if len(blocks) > 0 {
			d.logger.Infof("recovered %d blocks for authority %d", len(blocks), author)
		}
	}

	// restore committed markers for blocks that are still in memory
	for _, commit := range commits {
		for _, ref := range commit.Blocks {
			if info, ok := d.recent[ref]; ok {
				info.committed = true
			}
		}
	}

	if lastCommit != nil {
		d.logger.Infof("recovered dag state at commit %d (leader round %d)",
			lastCommit.Index, lastCommit.Leader.Round)
	}
}

// AcceptBlock inserts a block into the DAG.
// Accepting the same block twice is a no-op. A conflicting block in the local
// authority's own slot is a fatal local bug, not a network condition.
func (d *DagState) AcceptBlock(block *dagbft.VerifiedBlock) {
	if block.Round() == dagbft.GenesisRound {
		d.logger.Panicf("genesis block %s should not be accepted into the DAG", block)
	}

	d.mut.Lock()
	defer d.mut.Unlock()

	ref := block.Ref()
	if d.containsBlockLocked(ref) {
		return
	}

	// a conflicting entry in our own slot means local block production is
	// corrupted; refusing to continue is the only safe option
	if ref.Author == d.ownIndex {
		if existing := d.blocksAtSlotLocked(ref.Slot()); len(existing) > 0 {
			d.logger.Panicf("block rejected: attempted to add block %s to own slot where block(s) %v already exist", block, existing)
		}
	}

	d.updateBlockMetadata(block)
	d.blocksToWrite = append(d.blocksToWrite, block)

	source := "others"
	if ref.Author == d.ownIndex {
		source = "own"
	}
	d.metrics.AcceptedBlocks.WithLabelValues(source).Inc()
	if ref.Round <= d.lastCommittedRounds[ref.Author] {
		d.metrics.OutOfOrderBlocks.WithLabelValues(fmt.Sprintf("%d", ref.Author)).Inc()
	}
}

// updateBlockMetadata indexes a block. Requires the write lock.
func (d *DagState) updateBlockMetadata(block *dagbft.VerifiedBlock) {
	ref := block.Ref()
	d.recent[ref] = &blockInfo{block: block}
	d.refsByAuthority[ref.Author].insert(ref)
	if block.Round() > d.highestAcceptedRound {
		d.highestAcceptedRound = block.Round()
		d.metrics.HighestAcceptedRound.Set(float64(d.highestAcceptedRound))
	}
}

// GetBlock returns the block for the given ref,
// checking genesis, the in-memory cache, then storage.
func (d *DagState) GetBlock(ref dagbft.BlockRef) (*dagbft.VerifiedBlock, bool) {
	blocks := d.GetBlocks([]dagbft.BlockRef{ref})
	if blocks[0] == nil {
		return nil, false
	}
	return blocks[0], true
}

// GetBlocks returns the blocks for the given refs.
// The entry for a block that is not found is nil.
func (d *DagState) GetBlocks(refs []dagbft.BlockRef) []*dagbft.VerifiedBlock {
	blocks := make([]*dagbft.VerifiedBlock, len(refs))
	var missing []int

	d.mut.RLock()
	for i, ref := range refs {
		if ref.Round == dagbft.GenesisRound {
			blocks[i] = d.genesis[ref]
			continue
		}
		if info, ok := d.recent[ref]; ok {
			blocks[i] = info.block
			continue
		}
		missing = append(missing, i)
	}
	d.mut.RUnlock()

	if len(missing) == 0 {
		return blocks
	}

	missingRefs := make([]dagbft.BlockRef, len(missing))
	for i, idx := range missing {
		missingRefs[i] = refs[idx]
	}
	stored, err := d.store.ReadBlocks(missingRefs)
	if err != nil {
		d.logger.Panicf("failed to read from storage: %v", err)
	}
	for i, idx := range missing {
		blocks[idx] = stored[i]
	}
	return blocks
}

// ContainsBlock reports whether the exact block is known,
// in memory or in storage.
func (d *DagState) ContainsBlock(ref dagbft.BlockRef) bool {
	d.mut.RLock()
	known := d.containsBlockLocked(ref)
	// recent refs hold the newest blocks of each authority: a ref with a
	// higher round than everything cached cannot be in storage either
	if !known {
		if last, ok := d.refsByAuthority[ref.Author].last(); !ok || last.Round < ref.Round {
			d.mut.RUnlock()
			return false
		}
	}
	d.mut.RUnlock()
	if known {
		return true
	}

	stored, err := d.store.ReadBlocks([]dagbft.BlockRef{ref})
	if err != nil {
		d.logger.Panicf("failed to read from storage: %v", err)
	}
	return stored[0] != nil
}

func (d *DagState) containsBlockLocked(ref dagbft.BlockRef) bool {
	if ref.Round == dagbft.GenesisRound {
		_, ok := d.genesis[ref]
		return ok
	}
	return d.refsByAuthority[ref.Author].contains(ref)
}

// GetUncommittedBlocksAtSlot returns all uncommitted blocks known at the slot.
// More than one block is returned only when the slot author equivocated.
func (d *DagState) GetUncommittedBlocksAtSlot(slot dagbft.Slot) []*dagbft.VerifiedBlock {
	d.mut.RLock()
	defer d.mut.RUnlock()

	var blocks []*dagbft.VerifiedBlock
	for _, ref := range d.refsByAuthority[slot.Author].atRound(slot.Round) {
		if info := d.recent[ref]; !info.committed {
			blocks = append(blocks, info.block)
		}
	}
	return blocks
}

func (d *DagState) blocksAtSlotLocked(slot dagbft.Slot) []*dagbft.VerifiedBlock {
	var blocks []*dagbft.VerifiedBlock
	for _, ref := range d.refsByAuthority[slot.Author].atRound(slot.Round) {
		blocks = append(blocks, d.recent[ref].block)
	}
	return blocks
}

// GetBlocksAtRound returns all cached blocks at the given round,
// ordered by (author, digest).
func (d *DagState) GetBlocksAtRound(round dagbft.Round) []*dagbft.VerifiedBlock {
	d.mut.RLock()
	defer d.mut.RUnlock()

	var blocks []*dagbft.VerifiedBlock
	for i := range d.refsByAuthority {
		for _, ref := range d.refsByAuthority[i].atRound(round) {
			blocks = append(blocks, d.recent[ref].block)
		}
	}
	return blocks
}

// GetLastBlockForAuthority returns the last accepted block of the authority,
// or its genesis block if none has been accepted.
func (d *DagState) GetLastBlockForAuthority(author dagbft.AuthorityIndex) *dagbft.VerifiedBlock {
	d.mut.RLock()
	defer d.mut.RUnlock()

	if ref, ok := d.refsByAuthority[author].last(); ok {
		return d.recent[ref].block
	}
	return d.genesisBlockFor(author)
}

// GetLastCachedBlockPerAuthority returns the latest cached block of every
// authority with round < endRound, falling back to the genesis block.
// The result seeds ancestor sets for new block proposals.
func (d *DagState) GetLastCachedBlockPerAuthority(endRound dagbft.Round) []*dagbft.VerifiedBlock {
	if endRound == dagbft.GenesisRound {
		d.logger.Panicf("attempted to retrieve blocks earlier than the genesis round")
	}

	d.mut.RLock()
	defer d.mut.RUnlock()

	blocks := make([]*dagbft.VerifiedBlock, d.committee.Size())
	for i := range blocks {
		author := dagbft.AuthorityIndex(i)
		if endRound-1 <= d.evictedRounds[author] && d.evictedRounds[author] > 0 {
			d.logger.Panicf("attempted to request blocks of rounds < %d, when the last evicted round is %d for authority %d",
				endRound, d.evictedRounds[author], author)
		}
		if ref, ok := d.refsByAuthority[author].lastBefore(endRound); ok {
			blocks[i] = d.recent[ref].block
		} else {
			blocks[i] = d.genesisBlockFor(author)
		}
	}
	return blocks
}

func (d *DagState) genesisBlockFor(author dagbft.AuthorityIndex) *dagbft.VerifiedBlock {
	for ref, block := range d.genesis {
		if ref.Author == author {
			return block
		}
	}
	panic(fmt.Sprintf("no genesis block for authority %d", author))
}

// IsCommitted reports whether the exact block has been committed.
// The block must be in the cached window.
func (d *DagState) IsCommitted(ref dagbft.BlockRef) bool {
	d.mut.RLock()
	defer d.mut.RUnlock()

	info, ok := d.recent[ref]
	if !ok {
		d.logger.Panicf("attempted to query commit status for block %s not in cached data", ref)
	}
	return info.committed
}

// IsAnyBlockAtSlotCommitted reports whether any block at the slot has been
// committed. This is the authoritative equivocation guard: every decision of
// the form "has this slot already produced committed output" must use this
// method, never IsCommitted, because an adversary can diversify digests but
// not slots.
func (d *DagState) IsAnyBlockAtSlotCommitted(slot dagbft.Slot) bool {
	d.mut.RLock()
	defer d.mut.RUnlock()

	for _, ref := range d.refsByAuthority[slot.Author].atRound(slot.Round) {
		if d.recent[ref].committed {
			return true
		}
	}
	return false
}

// SetCommitted marks the block as committed and returns true if it was not
// committed before. Marking a second block at an already-committed slot is
// refused: returning false here is the last line of defense against an
// equivocator's sibling reaching the commit sequence.
func (d *DagState) SetCommitted(ref dagbft.BlockRef) bool {
	d.mut.Lock()
	defer d.mut.Unlock()

	info, ok := d.recent[ref]
	if !ok {
		d.logger.Panicf("block %s not found in cache to set as committed", ref)
	}
	if info.committed {
		return false
	}
	for _, other := range d.refsByAuthority[ref.Author].atRound(ref.Round) {
		if other != ref && d.recent[other].committed {
			d.logger.Errorf("refusing to commit %s: slot %s already committed as %s", ref, ref.Slot(), other)
			return false
		}
	}
	info.committed = true
	return true
}

// AddCommit records a new commit. Commits must be added in strictly
// consecutive index order with monotonically non-decreasing timestamps.
func (d *DagState) AddCommit(commit *dagbft.Commit) {
	d.mut.Lock()
	defer d.mut.Unlock()

	if d.lastCommit != nil {
		if commit.Index != d.lastCommit.Index+1 {
			d.logger.Panicf("commit index %d does not follow last commit index %d", commit.Index, d.lastCommit.Index)
		}
		if commit.TimestampMs < d.lastCommit.TimestampMs {
			d.logger.Panicf("commit timestamps do not monotonically increase: previous %d, new %d",
				d.lastCommit.TimestampMs, commit.TimestampMs)
		}
	} else if commit.Index != dagbft.GenesisCommitIndex+1 {
		d.logger.Panicf("first commit must have index %d, got %d", dagbft.GenesisCommitIndex+1, commit.Index)
	}

	d.lastCommit = commit
	for _, ref := range commit.Blocks {
		if ref.Round > d.lastCommittedRounds[ref.Author] {
			d.lastCommittedRounds[ref.Author] = ref.Round
		}
	}
	d.commitsToWrite = append(d.commitsToWrite, commit)
	d.metrics.LastCommitIndex.Set(float64(commit.Index))
}

// LastCommitIndex returns the index of the latest commit,
// or GenesisCommitIndex if nothing has been committed.
func (d *DagState) LastCommitIndex() dagbft.CommitIndex {
	d.mut.RLock()
	defer d.mut.RUnlock()
	if d.lastCommit == nil {
		return dagbft.GenesisCommitIndex
	}
	return d.lastCommit.Index
}

// LastCommitTimestampMs returns the timestamp of the latest commit.
func (d *DagState) LastCommitTimestampMs() uint64 {
	d.mut.RLock()
	defer d.mut.RUnlock()
	if d.lastCommit == nil {
		return 0
	}
	return d.lastCommit.TimestampMs
}

// LastCommittedRounds returns the last committed round per authority.
func (d *DagState) LastCommittedRounds() []dagbft.Round {
	d.mut.RLock()
	defer d.mut.RUnlock()
	rounds := make([]dagbft.Round, len(d.lastCommittedRounds))
	copy(rounds, d.lastCommittedRounds)
	return rounds
}

// HighestAcceptedRound returns the highest round of any accepted block.
func (d *DagState) HighestAcceptedRound() dagbft.Round {
	d.mut.RLock()
	defer d.mut.RUnlock()
	return d.highestAcceptedRound
}

// GCRound returns the highest round that is eligible for garbage collection.
// Blocks at or below it are no longer needed for commit decisions.
func (d *DagState) GCRound() dagbft.Round {
	d.mut.RLock()
	defer d.mut.RUnlock()
	return d.gcRoundLocked()
}

func (d *DagState) gcRoundLocked() dagbft.Round {
	if d.lastCommit == nil {
		return 0
	}
	return saturatingSub(d.lastCommit.Leader.Round, d.gcDepth)
}

// AncestorsAtRound returns all distinct ancestors of the block at exactly the
// given earlier round. All traversed blocks must be present in the DAG.
func (d *DagState) AncestorsAtRound(block *dagbft.VerifiedBlock, earlierRound dagbft.Round) []*dagbft.VerifiedBlock {
	visited := make(map[dagbft.BlockRef]bool)
	var collected []*dagbft.VerifiedBlock

	frontier := append([]dagbft.BlockRef(nil), block.Ancestors()...)
	for len(frontier) > 0 {
		ref := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if visited[ref] || ref.Round < earlierRound {
			continue
		}
		visited[ref] = true
		ancestor, ok := d.GetBlock(ref)
		if !ok {
			d.logger.Panicf("block %s should exist in the DAG", ref)
		}
		if ref.Round == earlierRound {
			collected = append(collected, ancestor)
			continue
		}
		frontier = append(frontier, ancestor.Ancestors()...)
	}

	return collected
}

// Flush writes all buffered blocks and commits to storage and evicts rounds
// below the GC boundary from memory.
func (d *DagState) Flush() {
	d.mut.Lock()
	blocks := d.blocksToWrite
	commits := d.commitsToWrite
	d.blocksToWrite = nil
	d.commitsToWrite = nil

	if err := d.store.WriteBlocks(blocks); err != nil {
		d.mut.Unlock()
		d.logger.Panicf("failed to write to storage: %v", err)
	}
	if err := d.store.WriteCommits(commits); err != nil {
		d.mut.Unlock()
		d.logger.Panicf("failed to write to storage: %v", err)
	}

	d.evictLocked()
	d.mut.Unlock()
}

// evictLocked removes blocks that are below both the GC round and the cached
// window of their authority. Requires the write lock.
func (d *DagState) evictLocked() {
	gcRound := d.gcRoundLocked()
	for i := range d.refsByAuthority {
		last, ok := d.refsByAuthority[i].last()
		if !ok {
			continue
		}
		evictionRound := min(gcRound, saturatingSub(last.Round, d.cachedRounds))
		if evictionRound <= d.evictedRounds[i] {
			continue
		}
		for _, ref := range d.refsByAuthority[i].evictBelow(evictionRound) {
			delete(d.recent, ref)
		}
		d.evictedRounds[i] = evictionRound
	}
}

func saturatingSub(a, b dagbft.Round) dagbft.Round {
	if a < b {
		return 0
	}
	return a - b
}
