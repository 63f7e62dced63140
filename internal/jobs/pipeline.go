package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/quantpulse/reconciler/internal/billing"
	"github.com/quantpulse/reconciler/internal/config"
	"github.com/quantpulse/reconciler/internal/database"
	"github.com/quantpulse/reconciler/internal/ledger"
	"github.com/quantpulse/reconciler/internal/logger"
	"github.com/quantpulse/reconciler/internal/publisher"
	"github.com/quantpulse/reconciler/internal/reconcile"
	"gorm.io/gorm"
)

// Pipeline runs the batch phases in order: status refresh, commission
// reconciliation, aggregate publish. Each phase's failure is logged and
// does not prevent the next phase from running.
type Pipeline struct {
	db      *gorm.DB
	billing *billing.Client
	cfg     *config.Config
	log     *logger.Logger
}

// NewPipeline wires the pipeline from its collaborators.
func NewPipeline(db *gorm.DB, billingClient *billing.Client, cfg *config.Config, log *logger.Logger) *Pipeline {
	return &Pipeline{db: db, billing: billingClient, cfg: cfg, log: log}
}

type phase struct {
	name string
	run  func(context.Context) error
}

// Run executes one full batch.
func (p *Pipeline) Run(ctx context.Context) {
	runPhases(ctx, p.log, []phase{
		{name: "active_status_refresh", run: p.refreshActiveStatus},
		{name: "commission_reconciliation", run: p.reconcileCommissions},
		{name: "aggregate_publish", run: p.publishAggregates},
	})
}

// runPhases isolates phase failures: a failed phase is logged and the
// remaining phases still run.
func runPhases(ctx context.Context, log *logger.Logger, phases []phase) {
	for _, ph := range phases {
		log.Infow("phase starting", "phase", ph.name)
		if err := ph.run(ctx); err != nil {
			log.Errorw("phase failed", "phase", ph.name, "error", err)
			continue
		}
		log.Infow("phase complete", "phase", ph.name)
	}
}

// Schedule runs the pipeline on a fixed interval. The caller starts the
// returned scheduler. Overlapping runs are not guarded here; operators
// serialize invocations externally.
func (p *Pipeline) Schedule(every time.Duration) (*gocron.Scheduler, error) {
	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(every).Do(func() {
		p.Run(context.Background())
	})
	if err != nil {
		return nil, err
	}
	return scheduler, nil
}

func (p *Pipeline) refreshActiveStatus(ctx context.Context) error {
	return NewActiveStatusJob(p.db, p.billing, p.log).Run(ctx)
}

func (p *Pipeline) reconcileCommissions(ctx context.Context) error {
	users, err := database.FetchReferredUsers(p.db)
	if err != nil {
		return err
	}
	p.log.Debugw("fetched referred users", "count", len(users))

	rates, err := database.FetchCommissionRates(p.db)
	if err != nil {
		return err
	}
	p.log.Debugw("fetched commission rates", "count", len(rates))

	engine := reconcile.NewEngine(p.billing, p.log)
	rows, err := engine.Reconcile(ctx, users, rates)
	if err != nil {
		return err
	}

	result, err := ledger.Upsert(p.db, rows)
	if err != nil {
		return err
	}

	p.log.Infow("commission reconciliation complete",
		"candidates", len(rows),
		"inserted", result.Inserted,
		"updated", result.Updated)
	return nil
}

func (p *Pipeline) publishAggregates(ctx context.Context) error {
	// Read the ledger fresh so aggregates reflect committed data, not
	// the in-memory candidate set.
	rows, err := database.ReadLedger(p.db)
	if err != nil {
		return err
	}

	pub, err := publisher.New(ctx, p.cfg.Redis, p.log)
	if err != nil {
		return err
	}
	defer pub.Close()

	written, err := pub.Publish(ctx, rows)
	if err != nil {
		return err
	}

	p.log.Infow("aggregate publish complete", "keys_written", written)
	return nil
}
