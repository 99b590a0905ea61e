package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/relab/dagbft"
)

// BlockHandler receives blocks delivered to a loopback node.
type BlockHandler func(block *dagbft.VerifiedBlock)

// Loopback connects a set of in-process nodes, for simulations and tests.
// Each node registers a handler and gets a Client that delivers blocks
// directly to the other nodes' handlers.
type Loopback struct {
	mut      sync.RWMutex
	handlers map[dagbft.AuthorityIndex]BlockHandler
}

// NewLoopback returns an empty loopback network.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[dagbft.AuthorityIndex]BlockHandler)}
}

// Join registers the block handler of a node and returns its client.
func (l *Loopback) Join(id dagbft.AuthorityIndex, handler BlockHandler) Client {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[id] = handler
	return &loopbackClient{network: l, id: id}
}

func (l *Loopback) deliver(peer dagbft.AuthorityIndex, block *dagbft.VerifiedBlock) error {
	l.mut.RLock()
	handler, ok := l.handlers[peer]
	l.mut.RUnlock()
	if !ok {
		return fmt.Errorf("loopback: unknown peer %d", peer)
	}
	handler(block)
	return nil
}

type loopbackClient struct {
	network *Loopback
	id      dagbft.AuthorityIndex
}

func (c *loopbackClient) SendBlock(ctx context.Context, peer dagbft.AuthorityIndex, block *dagbft.VerifiedBlock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.network.deliver(peer, block)
}

func (c *loopbackClient) SubscribeBlocks(context.Context, dagbft.AuthorityIndex, dagbft.Round) (<-chan *dagbft.VerifiedBlock, error) {
	return nil, fmt.Errorf("loopback: subscriptions not supported")
}

func (c *loopbackClient) FetchBlocks(context.Context, dagbft.AuthorityIndex, []dagbft.BlockRef) ([]*dagbft.VerifiedBlock, error) {
	return nil, fmt.Errorf("loopback: fetch not supported")
}

func (c *loopbackClient) FetchCommits(context.Context, dagbft.AuthorityIndex, dagbft.CommitIndex, dagbft.CommitIndex) ([]*dagbft.Commit, error) {
	return nil, fmt.Errorf("loopback: fetch not supported")
}

func (c *loopbackClient) FetchLatestBlocks(context.Context, dagbft.AuthorityIndex, []dagbft.AuthorityIndex) ([]*dagbft.VerifiedBlock, error) {
	return nil, fmt.Errorf("loopback: fetch not supported")
}

func (c *loopbackClient) GetLatestRounds(context.Context, dagbft.AuthorityIndex) ([]dagbft.Round, error) {
	return nil, fmt.Errorf("loopback: fetch not supported")
}

var _ Client = (*loopbackClient)(nil)
