package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/gsoltrack/service/metrics"
	"golang.org/x/sync/errgroup"
)

// Augment joins each non-reflexive edge with the balance detail of the
// neighbour it leads to. Outgoing edges are joined on the recipient, incoming
// edges on the sender. Edges whose neighbour has no detail are logged and
// dropped.
func Augment(ctx context.Context, n *Neighbours, details []BalanceDetail, m *metrics.Metrics, logger *slog.Logger) AugmentedNeighbours {
	if logger == nil {
		logger = slog.Default()
	}
	byAddr := make(map[string]BalanceDetail, len(details))
	for _, d := range details {
		byAddr[d.Address] = d
	}

	join := func(edges []Edge, dir Direction) []AugmentedNeighbour {
		out := make([]AugmentedNeighbour, 0, len(edges))
		for _, e := range edges {
			if e.Reflexive() {
				continue
			}
			subject := e.Recipient
			if dir == Incoming {
				subject = e.Sender
			}
			d, ok := byAddr[subject]
			if !ok {
				logger.WarnContext(ctx, "dropping neighbour without balance detail",
					"address", subject,
					"sender", e.Sender,
					"recipient", e.Recipient,
					"direction", string(dir),
				)
				m.RecordDataIntegrityWarning("augment")
				continue
			}
			out = append(out, AugmentedNeighbour{
				BalanceDetail: d,
				Sender:        e.Sender,
				Recipient:     e.Recipient,
				Degree:        e.Degree,
			})
		}
		return out
	}

	return AugmentedNeighbours{
		SenderResult:    join(n.Outgoing, Outgoing),
		RecipientResult: join(n.Incoming, Incoming),
	}
}

// NeighbourAddresses collects the distinct neighbour addresses of the
// non-reflexive edges in both directions.
func NeighbourAddresses(n *Neighbours) []string {
	var addrs []string
	for _, e := range n.Outgoing {
		if !e.Reflexive() {
			addrs = append(addrs, e.Recipient)
		}
	}
	for _, e := range n.Incoming {
		if !e.Reflexive() {
			addrs = append(addrs, e.Sender)
		}
	}
	return dedupe(addrs)
}

// NeighbourReport is the full answer to a neighbour query.
type NeighbourReport struct {
	Address    string
	Degree     int
	Neighbours AugmentedNeighbours
	Activity   *ActivityWindow
}

// Service answers neighbour queries by chaining the resolver, the aggregator
// and the augmenter.
type Service struct {
	resolver   *Resolver
	aggregator *Aggregator
	activity   ActivitySource
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewService wires the query pipeline over a single store.
func NewService(store Store, cfg ResolverConfig, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:   NewResolver(store, cfg, m, logger),
		aggregator: NewAggregator(store, m, logger),
		activity:   store,
		metrics:    m,
		logger:     logger,
	}
}

// MaxDegree returns the traversal ceiling.
func (s *Service) MaxDegree() int {
	return s.resolver.MaxDegree()
}

// Neighbours resolves, aggregates and augments the neighbour graph of address.
// The activity window of address is fetched alongside the traversal.
func (s *Service) Neighbours(ctx context.Context, address string, degree int) (*NeighbourReport, error) {
	start := time.Now()

	var (
		n      *Neighbours
		window *ActivityWindow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.resolver.Resolve(gctx, address, degree)
		if err != nil {
			return err
		}
		n = res
		return nil
	})
	g.Go(func() error {
		res, err := s.activity.ActivityWindow(gctx, address)
		if err != nil {
			return fmt.Errorf("activity window: %w", err)
		}
		window = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	details, err := s.aggregator.BalanceDetails(ctx, NeighbourAddresses(n))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate balances: %w", err)
	}

	report := &NeighbourReport{
		Address:    address,
		Degree:     degree,
		Neighbours: Augment(ctx, n, details, s.metrics, s.logger),
		Activity:   window,
	}

	s.logger.InfoContext(ctx, "neighbour query complete",
		"address", address,
		"degree", degree,
		"sender_results", len(report.Neighbours.SenderResult),
		"recipient_results", len(report.Neighbours.RecipientResult),
		"duration", time.Since(start),
	)
	return report, nil
}
