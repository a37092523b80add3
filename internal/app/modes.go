package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/openwager/wagerd/internal/collateral"
	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/engine"
	"github.com/openwager/wagerd/internal/server"
	"github.com/openwager/wagerd/internal/server/handler"
	"github.com/openwager/wagerd/internal/server/ws"
	"github.com/openwager/wagerd/internal/service"
)

// archiveCheckInterval is how often sweep mode looks for a completed month
// to archive.
const archiveCheckInterval = 12 * time.Hour

// buildEngine constructs the ledger core and rehydrates it from the journal.
// When the keeper table is empty the configured genesis keepers are seeded.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine.Engine, error) {
	cfg := a.cfg

	keepers, err := deps.KeeperStore.ListKeepers(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load keepers: %w", err)
	}
	if len(keepers) == 0 {
		seeds := cfg.GenesisKeepers()
		if len(seeds) == 0 {
			return nil, fmt.Errorf("app: keeper table empty and no genesis keepers configured")
		}
		now := time.Now().UTC()
		for _, s := range seeds {
			k := domain.Keeper{Addr: s.Addr, Contact: s.Contact, AddedAt: now}
			if err := deps.KeeperStore.SaveKeeper(ctx, k); err != nil {
				return nil, fmt.Errorf("app: seed genesis keeper %s: %w", s.Addr, err)
			}
			keepers = append(keepers, k)
		}
		a.logger.InfoContext(ctx, "seeded genesis keepers", slog.Int("count", len(keepers)))
	}

	snaps, err := deps.WagerStore.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load wagers: %w", err)
	}
	fees, err := deps.StateStore.LoadAccruedFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load accrued fees: %w", err)
	}

	ledger := collateral.NewMemoryLedger(cfg.Ledger.CollateralDecimals)
	vault := common.HexToAddress(cfg.Ledger.VaultAddress)
	treasury := common.HexToAddress(cfg.Ledger.TreasuryAddress)

	eng, err := engine.New(engine.Params{
		FeeBps:           cfg.Ledger.FeeBps,
		MaxFillers:       cfg.Ledger.MaxFillers,
		MinDisputeStake:  cfg.Ledger.MinDisputeStake,
		DisputeWindow:    cfg.Ledger.DisputeWindow.Duration,
		DisputeRewardBps: cfg.Ledger.DisputeRewardBps,
		ScoreTolerance:   cfg.Ledger.ScoreTolerance,
	}, ledger, vault, treasury, keepers[0], a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: engine: %w", err)
	}

	eng.Restore(snaps, keepers, fees)
	// The in-memory collateral ledger starts empty; re-credit the vault with
	// the escrow the restored state says it holds so payouts can clear.
	ledger.Mint(vault, escrowHeld(snaps, fees))

	a.logger.InfoContext(ctx, "engine restored",
		slog.Int("wagers", len(snaps)),
		slog.Int("keepers", len(keepers)),
		slog.Uint64("accrued_fees", fees),
	)
	return eng, nil
}

// escrowHeld sums the collateral the vault must hold for the given state:
// open pots, unresolved dispute stakes, and accrued fees.
func escrowHeld(snaps []domain.WagerSnapshot, fees uint64) uint64 {
	total := fees
	for _, s := range snaps {
		switch s.Wager.Status {
		case domain.WagerStatusSettled, domain.WagerStatusCancelled:
		default:
			total += s.Wager.CreatorStake + s.Wager.Matched - s.PotDebit
		}
		if s.Dispute != nil && !s.Dispute.Resolved() {
			total += s.Dispute.Stake
		}
	}
	return total
}

// ServeMode runs the full ledger node: engine, event pump, and the HTTP +
// WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}

	pump := service.NewEventPump(deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger)
	eng.SetSink(pump.Sink())

	wagerSvc := service.NewWagerService(
		eng, deps.WagerStore, deps.StateStore, deps.WagerCache,
		deps.ContentStore, deps.LockManager, a.logger,
	)
	keeperSvc := service.NewKeeperService(
		eng, deps.KeeperStore, deps.WagerStore, deps.StateStore,
		deps.WagerCache, deps.LockManager, a.logger,
	)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, keeperSvc, keeperSvc),
		Wagers:   handler.NewWagerHandler(wagerSvc, a.logger),
		Votes:    handler.NewVoteHandler(keeperSvc, wagerSvc, a.logger),
		Keepers:  handler.NewKeeperHandler(keeperSvc, a.logger),
		Disputes: handler.NewDisputeHandler(keeperSvc, a.logger),
		Fees:     handler.NewFeesHandler(keeperSvc, a.logger),
		Events:   handler.NewEventsHandler(deps.SignalBus, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pump.Run(ctx)
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// SweepMode runs the standalone maintenance worker: it expires overdue
// wagers on a fixed cadence and archives closed wagers monthly.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode",
		slog.Duration("interval", a.cfg.Ledger.SweepInterval.Duration),
	)

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}

	pump := service.NewEventPump(deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger)
	eng.SetSink(pump.Sink())

	wagerSvc := service.NewWagerService(
		eng, deps.WagerStore, deps.StateStore, deps.WagerCache,
		deps.ContentStore, deps.LockManager, a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pump.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Ledger.SweepInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				n, err := wagerSvc.SweepExpired(ctx)
				if err != nil {
					a.logger.WarnContext(ctx, "sweep failed", slog.String("error", err.Error()))
					continue
				}
				if n > 0 {
					a.logger.InfoContext(ctx, "swept expired wagers", slog.Int("count", n))
				}
			}
		}
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	return g.Wait()
}

// runArchiver periodically archives wagers closed before the start of the
// current month. Re-archiving a month overwrites the same object, so the
// loop needs no high-water mark.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(archiveCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().UTC()
			monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
			n, err := deps.Archiver.ArchiveClosedWagers(ctx, monthStart)
			if err != nil {
				a.logger.WarnContext(ctx, "archive failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archived closed wagers", slog.Int64("count", n))
			}
		}
	}
}

// MigrateMode applies database migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "running migrations")
	// Wire may have applied them already when run_migrations is set; running
	// again is a no-op thanks to the schema_migrations ledger.
	if err := deps.PG.RunMigrations(ctx); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations complete")
	return nil
}
