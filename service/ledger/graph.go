package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brojonat/gsoltrack/service/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxDegree is the traversal ceiling used when none is configured.
	DefaultMaxDegree = 6
	// DefaultDegree is the degree used when a caller does not ask for one.
	DefaultDegree = 2
	// DefaultQueryTimeout bounds a single neighbour query.
	DefaultQueryTimeout = 60 * time.Second
)

// Direction selects which side of an edge the traversal follows.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// ResolverConfig holds resolver tuning.
type ResolverConfig struct {
	MaxDegree    int
	QueryTimeout time.Duration
}

// Resolver computes the bounded-degree neighbour graph around an address.
type Resolver struct {
	edges   EdgeSource
	cfg     ResolverConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewResolver creates a resolver over the given edge source.
// Zero config values fall back to the package defaults.
func NewResolver(edges EdgeSource, cfg ResolverConfig, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if cfg.MaxDegree <= 0 {
		cfg.MaxDegree = DefaultMaxDegree
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		edges:   edges,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// MaxDegree returns the configured ceiling.
func (r *Resolver) MaxDegree() int {
	return r.cfg.MaxDegree
}

// Resolve returns the outgoing and incoming neighbour edges of address up to
// maxDegree hops. The two directions are resolved concurrently and never merged.
// Any store error or timeout fails the whole query.
func (r *Resolver) Resolve(ctx context.Context, address string, maxDegree int) (*Neighbours, error) {
	if maxDegree < 0 || maxDegree > r.cfg.MaxDegree {
		return nil, fmt.Errorf("%w: %d (allowed 0..%d)", ErrDegreeExceeded, maxDegree, r.cfg.MaxDegree)
	}
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	var result Neighbours
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		edges, err := r.traverse(gctx, Outgoing, address, maxDegree)
		if err != nil {
			return fmt.Errorf("outgoing traversal: %w", err)
		}
		result.Outgoing = edges
		return nil
	})
	g.Go(func() error {
		edges, err := r.traverse(gctx, Incoming, address, maxDegree)
		if err != nil {
			return fmt.Errorf("incoming traversal: %w", err)
		}
		result.Incoming = edges
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "resolved neighbours",
		"address", address,
		"degree", maxDegree,
		"outgoing", len(result.Outgoing),
		"incoming", len(result.Incoming),
	)
	return &result, nil
}

// traverse runs a level-by-level BFS from address. Edges found at hop k carry
// degree k; an edge reachable at several hops keeps the smallest one.
func (r *Resolver) traverse(ctx context.Context, dir Direction, address string, maxDegree int) (edges []Edge, err error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordGraphQuery(string(dir), time.Since(start).Seconds(), len(edges), err)
	}()

	seen := make(map[edgeKey]int)
	expanded := map[string]bool{address: true}
	frontier := []string{address}

	for degree := 0; degree <= maxDegree && len(frontier) > 0; degree++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		level, err := r.lookup(ctx, dir, frontier)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, e := range level {
			k := e.key()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = degree

			n := e.Recipient
			if dir == Incoming {
				n = e.Sender
			}
			if !expanded[n] {
				expanded[n] = true
				next = append(next, n)
			}
		}
		frontier = next
	}

	edges = make([]Edge, 0, len(seen))
	for k, d := range seen {
		edges = append(edges, Edge{Sender: k.sender, Recipient: k.recipient, Degree: d})
	}
	sortEdges(edges)
	return edges, nil
}

func (r *Resolver) lookup(ctx context.Context, dir Direction, frontier []string) ([]Edge, error) {
	if dir == Incoming {
		return r.edges.IncomingEdges(ctx, frontier)
	}
	return r.edges.OutgoingEdges(ctx, frontier)
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Degree != edges[j].Degree {
			return edges[i].Degree < edges[j].Degree
		}
		if edges[i].Sender != edges[j].Sender {
			return edges[i].Sender < edges[j].Sender
		}
		return edges[i].Recipient < edges[j].Recipient
	})
}
