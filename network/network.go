// Package network defines the transport interface consumed by the consensus
// core. Wire-level transport and message serialization live behind the Client
// interface; the consensus core never opens connections itself.
package network

import (
	"context"
	"errors"

	"github.com/relab/dagbft"
)

// ErrTimeout is returned when a request did not complete within its deadline.
// Implementations should wrap or return this error so that callers can adapt
// their timeout estimates.
var ErrTimeout = errors.New("network: request timed out")

// Client sends requests to other authorities.
//
// SendBlock is used by the Broadcaster to push locally produced blocks.
// The remaining methods are the surface used by the pull-based synchronizer
// that fills DAG gaps left behind by the push model.
type Client interface {
	// SendBlock sends a block to the peer.
	SendBlock(ctx context.Context, peer dagbft.AuthorityIndex, block *dagbft.VerifiedBlock) error

	// SubscribeBlocks subscribes to the stream of blocks produced by the
	// peer, starting after lastReceived.
	SubscribeBlocks(ctx context.Context, peer dagbft.AuthorityIndex, lastReceived dagbft.Round) (<-chan *dagbft.VerifiedBlock, error)

	// FetchBlocks fetches the blocks with the given refs from the peer.
	FetchBlocks(ctx context.Context, peer dagbft.AuthorityIndex, refs []dagbft.BlockRef) ([]*dagbft.VerifiedBlock, error)

	// FetchCommits fetches the commits in the index range [start, end] from the peer.
	FetchCommits(ctx context.Context, peer dagbft.AuthorityIndex, start, end dagbft.CommitIndex) ([]*dagbft.Commit, error)

	// FetchLatestBlocks fetches the latest blocks of the given authorities from the peer.
	FetchLatestBlocks(ctx context.Context, peer dagbft.AuthorityIndex, authorities []dagbft.AuthorityIndex) ([]*dagbft.VerifiedBlock, error)

	// GetLatestRounds returns the highest accepted round per authority as
	// seen by the peer.
	GetLatestRounds(ctx context.Context, peer dagbft.AuthorityIndex) ([]dagbft.Round, error)
}
