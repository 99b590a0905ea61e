package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relab/dagbft"
	"github.com/relab/dagbft/broadcaster"
	"github.com/relab/dagbft/committer"
	"github.com/relab/dagbft/consensus"
	"github.com/relab/dagbft/dagstate"
	"github.com/relab/dagbft/eventloop"
	"github.com/relab/dagbft/leaderschedule"
	"github.com/relab/dagbft/linearizer"
	"github.com/relab/dagbft/logging"
	"github.com/relab/dagbft/metrics"
	"github.com/relab/dagbft/modules"
	"github.com/relab/dagbft/network"
	"github.com/relab/dagbft/storage"
	"golang.org/x/sync/errgroup"
)

const defaultBlockInterval = 100 * time.Millisecond

type runOptions struct {
	Authorities   int           `mapstructure:"authorities"`
	PayloadSize   int           `mapstructure:"payload-size"`
	BlockInterval time.Duration `mapstructure:"block-interval"`
	Duration      time.Duration `mapstructure:"duration"`
	DataDir       string        `mapstructure:"data-dir"`
	MetricsAddr   string        `mapstructure:"metrics-addr"`
	LogLevel      string        `mapstructure:"log-level"`
}

// produceTick triggers a block production attempt on a node's event loop.
type produceTick struct{}

type node struct {
	id          dagbft.AuthorityIndex
	eventLoop   *eventloop.EventLoop
	dag         *dagstate.DagState
	consensus   *consensus.Consensus
	broadcaster *broadcaster.Broadcaster
	store       storage.Store
}

func run(ctx context.Context, opts runOptions) error {
	logging.SetLogLevel(opts.LogLevel)

	if opts.Authorities < 4 {
		return fmt.Errorf("need at least 4 authorities to tolerate a fault, got %d", opts.Authorities)
	}
	committee := dagbft.NewEqualCommittee(opts.Authorities)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	registry := prometheus.NewRegistry()
	if opts.MetricsAddr != "" {
		go serveMetrics(opts.MetricsAddr, registry)
	}

	loopback := network.NewLoopback()
	nodes := make([]*node, opts.Authorities)
	for i := range nodes {
		n, err := newNode(dagbft.AuthorityIndex(i), committee, loopback, registry, opts)
		if err != nil {
			return err
		}
		nodes[i] = n
		defer n.store.Close()
	}

	payload := make([]byte, opts.PayloadSize)
	if _, err := rand.Read(payload); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		n.broadcaster.Start(ctx)
		n.eventLoop.AddTicker(opts.BlockInterval, func(time.Time) any {
			return produceTick{}
		})
		n.eventLoop.RegisterHandler(produceTick{}, func(any) {
			n.consensus.TryProduceBlock(payload)
		})
		g.Go(func() error {
			n.eventLoop.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return report(ctx, nodes[0])
	})

	err := g.Wait()
	for _, n := range nodes {
		// shutdown errors are context cancelations
		_ = n.broadcaster.Wait()
	}
	if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return err
	}
	return nil
}

func newNode(
	id dagbft.AuthorityIndex,
	committee *dagbft.Committee,
	loopback *network.Loopback,
	registry *prometheus.Registry,
	opts runOptions,
) (*node, error) {
	logger := logging.New(fmt.Sprintf("node%d", id))
	consensusMetrics := metrics.NewConsensus(prometheus.WrapRegistererWith(
		prometheus.Labels{"authority": fmt.Sprintf("%d", id)}, registry))

	var store storage.Store
	if opts.DataDir == "" {
		store = storage.NewMemStore()
	} else {
		var err error
		store, err = storage.OpenBadger(filepath.Join(opts.DataDir, fmt.Sprintf("node%d", id)))
		if err != nil {
			return nil, fmt.Errorf("failed to open storage for node %d: %w", id, err)
		}
	}

	n := &node{id: id, store: store}
	n.eventLoop = eventloop.New(1024)
	n.dag = dagstate.New(committee, id, store, logger, consensusMetrics)
	n.consensus = consensus.New(id)
	n.broadcaster = broadcaster.New(id)

	client := loopback.Join(id, func(block *dagbft.VerifiedBlock) {
		if err := n.consensus.OnReceivedBlock(block); err != nil {
			logger.Warnf("rejected block: %v", err)
		}
	})

	builder := modules.NewBuilder()
	builder.Add(
		logger,
		consensusMetrics,
		committee,
		n.eventLoop,
		n.dag,
		leaderschedule.New(committee, logger),
		committer.New(),
		linearizer.New(),
		client,
		n.consensus,
		n.broadcaster,
	)
	builder.Build()

	return n, nil
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Printf("metrics server stopped: %v\n", err)
	}
}

// report prints commit progress of one node once per second.
func report(ctx context.Context, n *node) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var lastIndex dagbft.CommitIndex
	for {
		select {
		case <-ticker.C:
			index := n.dag.LastCommitIndex()
			fmt.Printf("commit index %d (+%d/s), highest round %d\n",
				index, index-lastIndex, n.dag.HighestAcceptedRound())
			lastIndex = index
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
