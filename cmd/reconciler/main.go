package main

import (
	"context"
	"flag"
	"log"

	"github.com/quantpulse/reconciler/internal/billing"
	"github.com/quantpulse/reconciler/internal/config"
	"github.com/quantpulse/reconciler/internal/database"
	"github.com/quantpulse/reconciler/internal/jobs"
	"github.com/quantpulse/reconciler/internal/logger"
)

func main() {
	every := flag.Duration("every", 0, "run the pipeline on this interval instead of once")
	fullScan := flag.Bool("full-scan", false, "fetch charges for every billing customer, log totals and exit")
	flag.Parse()

	logg, err := logger.New()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	cfg := config.Load()
	billingClient := billing.New(cfg.Stripe, cfg.Pipeline.CustomerDelay, logg)

	if *fullScan {
		runFullScan(billingClient, logg)
		return
	}

	db, err := database.Init(cfg.Database)
	if err != nil {
		logg.Fatalw("failed to connect to database", "error", err)
	}

	pipeline := jobs.NewPipeline(db, billingClient, cfg, logg)

	if *every > 0 {
		scheduler, err := pipeline.Schedule(*every)
		if err != nil {
			logg.Fatalw("failed to schedule pipeline", "error", err)
		}
		logg.Infow("pipeline scheduled", "interval", every.String())
		scheduler.StartBlocking()
		return
	}

	pipeline.Run(context.Background())
	logg.Infow("pipeline run complete")
}

// runFullScan is a read-only diagnostic: it walks every billing customer
// and reports what a reconciliation run would see, without touching the
// database.
func runFullScan(billingClient *billing.Client, logg *logger.Logger) {
	records, err := billingClient.ChargesForAllCustomers(context.Background())
	if err != nil {
		logg.Fatalw("full scan failed", "error", err)
	}

	customers := make(map[string]struct{}, len(records))
	charges := 0
	for _, rec := range records {
		customers[rec.CustomerID] = struct{}{}
		if !rec.Sentinel {
			charges++
		}
	}

	logg.Infow("full scan complete",
		"customers", len(customers),
		"charges", charges,
		"without_charges", len(records)-charges)
}
