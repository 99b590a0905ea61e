// Package broadcaster pushes locally produced blocks to all peers.
//
// Delivery is best effort: the pull-based synchronizer is responsible for
// filling any gaps, so the broadcaster may drop queued blocks for a lagging
// peer without affecting safety. Each peer is served by its own goroutine
// with an adaptive round-trip estimate, so one slow peer never delays the
// others.
package broadcaster

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/relab/dagbft"
	"github.com/relab/dagbft/eventloop"
	"github.com/relab/dagbft/logging"
	"github.com/relab/dagbft/metrics"
	"github.com/relab/dagbft/modules"
	"github.com/relab/dagbft/network"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultConcurrency is the number of in-flight sends allowed per peer.
	defaultConcurrency = 10

	// defaultRetryInterval is how long a peer loop stays idle before
	// resending its latest block.
	defaultRetryInterval = 2 * time.Second

	// defaultNetworkTimeout is the minimum deadline given to a network
	// send, regardless of how low the round-trip estimate is.
	defaultNetworkTimeout = 5 * time.Second

	// peerQueueSize is the per-peer buffer of blocks awaiting send.
	peerQueueSize = 16

	// transportRetryDelay is the pause before retrying a send that failed
	// with a transport error rather than a timeout.
	transportRetryDelay = 100 * time.Millisecond
)

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithConcurrency sets the number of in-flight sends allowed per peer.
func WithConcurrency(n int) Option {
	return func(b *Broadcaster) { b.concurrency = n }
}

// WithRetryInterval sets the idle interval after which the latest block is
// resent.
func WithRetryInterval(interval time.Duration) Option {
	return func(b *Broadcaster) { b.retryInterval = interval }
}

// WithNetworkTimeout sets the minimum deadline given to a network send.
func WithNetworkTimeout(timeout time.Duration) Option {
	return func(b *Broadcaster) { b.networkTimeout = timeout }
}

// Broadcaster distributes the local authority's blocks to all peers.
type Broadcaster struct {
	logger    logging.Logger
	metrics   *metrics.Consensus
	committee *dagbft.Committee
	eventLoop *eventloop.EventLoop
	client    network.Client
	ownIndex  dagbft.AuthorityIndex

	concurrency    int
	retryInterval  time.Duration
	networkTimeout time.Duration

	queues []chan *dagbft.VerifiedBlock
	eg     *errgroup.Group
}

// New returns a broadcaster for the given local authority.
// Dependencies are resolved through the module system.
func New(ownIndex dagbft.AuthorityIndex, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		ownIndex:       ownIndex,
		concurrency:    defaultConcurrency,
		retryInterval:  defaultRetryInterval,
		networkTimeout: defaultNetworkTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// InitModule gives the broadcaster access to the modules it depends on and
// subscribes it to locally produced blocks.
func (b *Broadcaster) InitModule(mods *modules.Core) {
	mods.Get(
		&b.logger,
		&b.metrics,
		&b.committee,
		&b.eventLoop,
		&b.client,
	)

	b.eventLoop.RegisterHandler(dagbft.BlockAcceptedEvent{}, func(event any) {
		if e := event.(dagbft.BlockAcceptedEvent); e.Own {
			b.Broadcast(e.Block)
		}
	})
}

// Start launches one send loop per peer. The loops stop when ctx is canceled;
// Wait joins them.
func (b *Broadcaster) Start(ctx context.Context) {
	b.queues = make([]chan *dagbft.VerifiedBlock, b.committee.Size())
	b.eg, ctx = errgroup.WithContext(ctx)

	for i := 0; i < b.committee.Size(); i++ {
		peer := dagbft.AuthorityIndex(i)
		if peer == b.ownIndex {
			continue
		}
		queue := make(chan *dagbft.VerifiedBlock, peerQueueSize)
		b.queues[peer] = queue
		b.eg.Go(func() error {
			return b.servePeer(ctx, peer, queue)
		})
	}
}

// Wait blocks until all peer loops have stopped.
func (b *Broadcaster) Wait() error {
	return b.eg.Wait()
}

// Broadcast queues the block for delivery to every peer. If a peer's queue is
// full its oldest queued block is dropped; the synchronizer covers the gap.
func (b *Broadcaster) Broadcast(block *dagbft.VerifiedBlock) {
	for i, queue := range b.queues {
		if queue == nil {
			continue
		}
		for {
			select {
			case queue <- block:
			default:
				select {
				case dropped := <-queue:
					b.logger.Debugf("peer %d lagging, dropped queued block %s", i, dropped)
				default:
				}
				continue
			}
			break
		}
	}
}

type sendResult struct {
	id  uint64
	rtt time.Duration
	err error
}

type inflightSend struct {
	id     uint64
	block  *dagbft.VerifiedBlock
	ctx    context.Context
	cancel context.CancelFunc
}

// servePeer is the send loop for one peer. It keeps at most concurrency sends
// in flight; when a new block would exceed that, the oldest in-flight send is
// abandoned. After retryInterval without a new block the latest block is
// resent so a peer that missed it can catch up.
func (b *Broadcaster) servePeer(ctx context.Context, peer dagbft.AuthorityIndex, queue <-chan *dagbft.VerifiedBlock) error {
	peerLabel := strconv.Itoa(int(peer))
	rtt := newRTTEstimator()
	results := make(chan sendResult, b.concurrency)
	var inflight []inflightSend
	var nextID uint64
	var lastBlock *dagbft.VerifiedBlock

	startSend := func(block *dagbft.VerifiedBlock) {
		if len(inflight) >= b.concurrency {
			inflight[0].cancel()
			inflight = inflight[1:]
		}
		sendCtx, cancel := context.WithCancel(ctx)
		id := nextID
		nextID++
		inflight = append(inflight, inflightSend{id: id, block: block, ctx: sendCtx, cancel: cancel})
		go b.send(sendCtx, id, peer, block, rtt.timeout(), results)
	}

	retry := time.NewTimer(b.retryInterval)
	defer retry.Stop()

	for {
		select {
		case block := <-queue:
			lastBlock = block
			startSend(block)
			if !retry.Stop() {
				<-retry.C
			}
			retry.Reset(b.retryInterval)

		case result := <-results:
			idx := -1
			for i, send := range inflight {
				if send.id == result.id {
					idx = i
					break
				}
			}
			if idx < 0 {
				// the send was already abandoned
				break
			}
			current := inflight[idx]
			switch {
			case result.err == nil:
				current.cancel()
				inflight = append(inflight[:idx], inflight[idx+1:]...)
				rtt = rtt.observe(result.rtt)
			case isTimeout(result.err):
				// grow the shared estimate so every future request to
				// this peer gets a larger deadline, then retry
				rtt = rtt.recordTimeout()
				b.logger.Debugf("sending block %s to peer %d timed out, retrying", current.block, peer)
				go b.send(current.ctx, current.id, peer, current.block, rtt.timeout(), results)
			default:
				b.logger.Debugf("sending block %s to peer %d failed: %v", current.block, peer, result.err)
				go b.send(current.ctx, current.id, peer, current.block, rtt.timeout(), results)
			}
			b.metrics.ObserveRTT(peerLabel, rtt.estimate)

		case <-retry.C:
			if lastBlock != nil {
				startSend(lastBlock)
			}
			retry.Reset(b.retryInterval)

		case <-ctx.Done():
			for _, send := range inflight {
				send.cancel()
			}
			return ctx.Err()
		}
	}
}

// send makes a single delivery attempt and reports the outcome to the peer
// loop, which owns the retry decision. The network call always gets at least
// the configured network timeout so that a send slower than the round-trip
// estimate can still complete. Transport errors other than timeouts back off
// for a fixed delay before reporting, so their retry is delayed without
// touching the round-trip estimate.
func (b *Broadcaster) send(ctx context.Context, id uint64, peer dagbft.AuthorityIndex, block *dagbft.VerifiedBlock, timeout time.Duration, results chan<- sendResult) {
	deadline := timeout
	if deadline < b.networkTimeout {
		deadline = b.networkTimeout
	}
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	err := b.client.SendBlock(callCtx, peer, block)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil && !isTimeout(err) {
		select {
		case <-time.After(transportRetryDelay):
		case <-ctx.Done():
			return
		}
	}
	select {
	case results <- sendResult{id: id, rtt: time.Since(start), err: err}:
	case <-ctx.Done():
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, network.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
