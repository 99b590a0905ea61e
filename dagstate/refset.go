package dagstate

import (
	"sort"

	"github.com/relab/dagbft"
)

// refSet is an ordered set of block refs from a single authority,
// sorted by (round, author, digest).
type refSet struct {
	refs []dagbft.BlockRef
}

// insert adds the ref unless it is already present.
func (s *refSet) insert(ref dagbft.BlockRef) {
	i := sort.Search(len(s.refs), func(i int) bool {
		return s.refs[i].Compare(ref) >= 0
	})
	if i < len(s.refs) && s.refs[i] == ref {
		return
	}
	s.refs = append(s.refs, dagbft.BlockRef{})
	copy(s.refs[i+1:], s.refs[i:])
	s.refs[i] = ref
}

// contains reports whether the ref is in the set.
func (s *refSet) contains(ref dagbft.BlockRef) bool {
	i := sort.Search(len(s.refs), func(i int) bool {
		return s.refs[i].Compare(ref) >= 0
	})
	return i < len(s.refs) && s.refs[i] == ref
}

// last returns the highest ref in the set.
func (s *refSet) last() (dagbft.BlockRef, bool) {
	if len(s.refs) == 0 {
		return dagbft.BlockRef{}, false
	}
	return s.refs[len(s.refs)-1], true
}

// atRound returns all refs with the given round.
func (s *refSet) atRound(round dagbft.Round) []dagbft.BlockRef {
	lo := sort.Search(len(s.refs), func(i int) bool {
		return s.refs[i].Round >= round
	})
	hi := sort.Search(len(s.refs), func(i int) bool {
		return s.refs[i].Round > round
	})
	return s.refs[lo:hi]
}

// lastBefore returns the highest ref with round < endRound.
func (s *refSet) lastBefore(endRound dagbft.Round) (dagbft.BlockRef, bool) {
	i := sort.Search(len(s.refs), func(i int) bool {
		return s.refs[i].Round >= endRound
	})
	if i == 0 {
		return dagbft.BlockRef{}, false
	}
	return s.refs[i-1], true
}

// evictBelow removes and returns all refs with round <= round.
func (s *refSet) evictBelow(round dagbft.Round) []dagbft.BlockRef {
	i := sort.Search(len(s.refs), func(i int) bool {
		return s.refs[i].Round > round
	})
	evicted := make([]dagbft.BlockRef, i)
	copy(evicted, s.refs[:i])
	s.refs = s.refs[i:]
	return evicted
}
