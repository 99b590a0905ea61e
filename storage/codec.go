package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/relab/dagbft"
)

// blockRecord is the serialized form of a VerifiedBlock.
// The digest is not stored; it is recomputed deterministically on decode.
type blockRecord struct {
	_           struct{} `cbor:",toarray"`
	Round       uint32
	Author      uint32
	TimestampMs uint64
	Ancestors   []refRecord
	Payload     []byte
}

type refRecord struct {
	_      struct{} `cbor:",toarray"`
	Round  uint32
	Author uint32
	Digest [32]byte
}

type commitRecord struct {
	_           struct{} `cbor:",toarray"`
	Index       uint32
	Leader      refRecord
	Blocks      []refRecord
	TimestampMs uint64
}

func toRefRecord(ref dagbft.BlockRef) refRecord {
	return refRecord{Round: uint32(ref.Round), Author: uint32(ref.Author), Digest: ref.Digest}
}

func fromRefRecord(rec refRecord) dagbft.BlockRef {
	return dagbft.BlockRef{Round: dagbft.Round(rec.Round), Author: dagbft.AuthorityIndex(rec.Author), Digest: rec.Digest}
}

func encodeBlock(block *dagbft.VerifiedBlock) ([]byte, error) {
	ancestors := make([]refRecord, 0, len(block.Ancestors()))
	for _, ref := range block.Ancestors() {
		ancestors = append(ancestors, toRefRecord(ref))
	}
	return cbor.Marshal(blockRecord{
		Round:       uint32(block.Round()),
		Author:      uint32(block.Author()),
		TimestampMs: block.TimestampMs(),
		Ancestors:   ancestors,
		Payload:     block.Payload(),
	})
}

func decodeBlock(data []byte) (*dagbft.VerifiedBlock, error) {
	var rec blockRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode block: %w", err)
	}
	var ancestors []dagbft.BlockRef
	for _, ref := range rec.Ancestors {
		ancestors = append(ancestors, fromRefRecord(ref))
	}
	return dagbft.NewBlock(
		dagbft.Round(rec.Round),
		dagbft.AuthorityIndex(rec.Author),
		ancestors,
		rec.Payload,
		rec.TimestampMs,
	), nil
}

func encodeCommit(commit *dagbft.Commit) ([]byte, error) {
	blocks := make([]refRecord, 0, len(commit.Blocks))
	for _, ref := range commit.Blocks {
		blocks = append(blocks, toRefRecord(ref))
	}
	return cbor.Marshal(commitRecord{
		Index:       uint32(commit.Index),
		Leader:      toRefRecord(commit.Leader),
		Blocks:      blocks,
		TimestampMs: commit.TimestampMs,
	})
}

func decodeCommit(data []byte) (*dagbft.Commit, error) {
	var rec commitRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode commit: %w", err)
	}
	blocks := make([]dagbft.BlockRef, 0, len(rec.Blocks))
	for _, ref := range rec.Blocks {
		blocks = append(blocks, fromRefRecord(ref))
	}
	return &dagbft.Commit{
		Index:       dagbft.CommitIndex(rec.Index),
		Leader:      fromRefRecord(rec.Leader),
		Blocks:      blocks,
		TimestampMs: rec.TimestampMs,
	}, nil
}
