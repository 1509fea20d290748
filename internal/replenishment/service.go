package replenishment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
	"github.com/odyssey-erp/fulfillment/internal/notify"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const jobName = "replenishment_snapshot"

// Repository reads ledger positions and stores snapshots.
type Repository interface {
	Positions(ctx context.Context) ([]Position, error)
	// SaleTotals sums SALE movements since the given time keyed by
	// shared.LedgerRowKey.
	SaleTotals(ctx context.Context, since time.Time) (map[string]int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Latest(ctx context.Context) (Snapshot, error)
	ByDate(ctx context.Context, date string) (Snapshot, error)
}

// TxRepository writes one run atomically.
type TxRepository interface {
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
	// ClaimNotification records the day's notification marker and reports
	// whether this call created it.
	ClaimNotification(ctx context.Context, date string) (bool, error)
}

// Service builds and serves replenishment snapshots.
type Service struct {
	repo    Repository
	cache   *Cache
	events  notify.Emitter
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
	group   singleflight.Group
}

// NewService constructs Service. cache and metrics may be nil.
func NewService(repo Repository, cache *Cache, events notify.Emitter, metrics *jobmetrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		events:  events,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the analysis settings.
func (s *Service) Config() Config { return s.cfg }

// RunSnapshot analyzes the ledger and replaces today's snapshot. The critical
// notification goes out at most once per day however often this runs.
func (s *Service) RunSnapshot(ctx context.Context, trigger Trigger) (snap Snapshot, err error) {
	tracker := s.metrics.Track(jobName)
	defer func() { err = tracker.End(err) }()

	now := s.now()
	positions, err := s.positions(ctx, now)
	if err != nil {
		return Snapshot{}, err
	}
	recs := Analyze(positions, s.cfg)
	snap = Snapshot{
		Date:            s.cfg.DateKey(now),
		GeneratedAt:     now,
		Trigger:         trigger,
		Recommendations: recs,
		Summary:         Summarize(recs),
	}

	var notifyNow bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		notifyNow = false
		if err := tx.UpsertSnapshot(ctx, snap); err != nil {
			return err
		}
		if snap.Summary.Critical == 0 {
			return nil
		}
		claimed, err := tx.ClaimNotification(ctx, snap.Date)
		notifyNow = claimed
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}

	s.logger.Info("replenishment snapshot stored",
		slog.String("date", snap.Date),
		slog.String("trigger", string(trigger)),
		slog.Int("recommendations", snap.Summary.Total),
		slog.Int("critical", snap.Summary.Critical))
	for _, r := range recs {
		s.metrics.AddRecommendations(string(r.Type), string(r.Priority), 1)
	}
	if notifyNow && s.events != nil {
		s.events.Emit(ctx, notify.EventReplenishmentCritical, "replenishment-"+snap.Date, map[string]any{
			"date":     snap.Date,
			"critical": snap.Summary.Critical,
			"total":    snap.Summary.Total,
			"items":    criticalOnly(recs),
		})
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("replenishment cache bump failed", slog.Any("error", err))
	}
	return snap, nil
}

func (s *Service) positions(ctx context.Context, now time.Time) ([]Position, error) {
	positions, err := s.repo.Positions(ctx)
	if err != nil {
		return nil, err
	}
	days := s.cfg.window()
	totals, err := s.repo.SaleTotals(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	for i := range positions {
		p := &positions[i]
		p.AvgDailyDemand = demandPerDay(totals[shared.LedgerRowKey(p.BranchID, p.SKU)], days)
	}
	return positions, nil
}

// LatestSnapshot returns the most recent snapshot. Concurrent callers share
// one load and Redis fronts the database.
func (s *Service) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	return s.cached(ctx, "latest", func(ctx context.Context) (Snapshot, error) {
		return s.repo.Latest(ctx)
	})
}

// SnapshotFor returns the snapshot stored for date (YYYY-MM-DD).
func (s *Service) SnapshotFor(ctx context.Context, date string) (Snapshot, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return Snapshot{}, shared.NewError(shared.ErrValidation, "INVALID_DATE", "date must be YYYY-MM-DD")
	}
	return s.cached(ctx, "date:"+date, func(ctx context.Context) (Snapshot, error) {
		return s.repo.ByDate(ctx, date)
	})
}

// HasSnapshotFor reports whether a snapshot exists for date.
func (s *Service) HasSnapshotFor(ctx context.Context, date string) (bool, error) {
	_, err := s.repo.ByDate(ctx, date)
	if errors.Is(err, ErrSnapshotNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) cached(ctx context.Context, name string, load func(context.Context) (Snapshot, error)) (Snapshot, error) {
	v, err, _ := s.group.Do(name, func() (any, error) {
		key, err := s.cache.Key(ctx, "snapshot", name)
		if err != nil {
			s.logger.Warn("replenishment cache unavailable", slog.Any("error", err))
			return load(ctx)
		}
		var snap Snapshot
		err = s.cache.FetchJSON(ctx, key, &snap, func(ctx context.Context) (any, error) {
			return load(ctx)
		})
		return snap, err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func criticalOnly(recs []Recommendation) []Recommendation {
	out := make([]Recommendation, 0, len(recs))
	for _, r := range recs {
		if r.Priority == PriorityCritical {
			out = append(out, r)
		}
	}
	return out
}
