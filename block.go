package dagbft

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// VerifiedBlock is a block whose signature and structure have already been
// checked by the verification layer. It is immutable once created.
//
// All ancestors of a block must have a strictly lower round.
type VerifiedBlock struct {
	// keep a copy of the ref to avoid hashing multiple times
	ref         BlockRef
	ancestors   []BlockRef
	payload     []byte
	timestampMs uint64
}

// NewBlock creates a new VerifiedBlock. The digest is computed immediately so
// that Ref never races with concurrent readers.
func NewBlock(round Round, author AuthorityIndex, ancestors []BlockRef, payload []byte, timestampMs uint64) *VerifiedBlock {
	b := &VerifiedBlock{
		ancestors:   ancestors,
		payload:     payload,
		timestampMs: timestampMs,
	}
	b.ref = BlockRef{
		Round:  round,
		Author: author,
		Digest: sha256.Sum256(b.toBytes(round, author)),
	}
	return b
}

// Ref returns the unique reference of the block.
func (b *VerifiedBlock) Ref() BlockRef {
	return b.ref
}

// Round returns the round in which the block was produced.
func (b *VerifiedBlock) Round() Round {
	return b.ref.Round
}

// Author returns the authority that produced the block.
func (b *VerifiedBlock) Author() AuthorityIndex {
	return b.ref.Author
}

// Slot returns the (round, author) slot of the block.
func (b *VerifiedBlock) Slot() Slot {
	return b.ref.Slot()
}

// Ancestors returns the refs of the blocks this block depends on.
// The returned slice must not be modified.
func (b *VerifiedBlock) Ancestors() []BlockRef {
	return b.ancestors
}

// Payload returns the transaction payload carried by the block.
func (b *VerifiedBlock) Payload() []byte {
	return b.payload
}

// TimestampMs returns the block production timestamp in unix milliseconds.
func (b *VerifiedBlock) TimestampMs() uint64 {
	return b.timestampMs
}

func (b *VerifiedBlock) String() string {
	return fmt.Sprintf("Block%s", b.ref)
}

func (b *VerifiedBlock) toBytes(round Round, author AuthorityIndex) []byte {
	var buf []byte
	var numBuf [8]byte
	binary.LittleEndian.PutUint32(numBuf[:4], uint32(round))
	buf = append(buf, numBuf[:4]...)
	binary.LittleEndian.PutUint32(numBuf[:4], uint32(author))
	buf = append(buf, numBuf[:4]...)
	binary.LittleEndian.PutUint64(numBuf[:], b.timestampMs)
	buf = append(buf, numBuf[:]...)
	for _, ancestor := range b.ancestors {
		binary.LittleEndian.PutUint32(numBuf[:4], uint32(ancestor.Round))
		buf = append(buf, numBuf[:4]...)
		binary.LittleEndian.PutUint32(numBuf[:4], uint32(ancestor.Author))
		buf = append(buf, numBuf[:4]...)
		buf = append(buf, ancestor.Digest[:]...)
	}
	buf = append(buf, b.payload...)
	return buf
}

// GenesisBlocks returns the round 0 block of every committee member.
// Genesis blocks have no ancestors and are never broadcast;
// every authority derives the same set locally.
func GenesisBlocks(committee *Committee) []*VerifiedBlock {
	blocks := make([]*VerifiedBlock, 0, committee.Size())
	for i := 0; i < committee.Size(); i++ {
		blocks = append(blocks, NewBlock(GenesisRound, AuthorityIndex(i), nil, nil, 0))
	}
	return blocks
}
