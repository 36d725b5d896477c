package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-checkout/internal/domain/discount"
	"github.com/xenking/kitchen-checkout/internal/ingest"
	"github.com/xenking/kitchen-checkout/internal/storage/postgres"
)

// campaignRule is the rule given to a known campaign code.
type campaignRule struct {
	typ         discount.Type
	value       string
	minimum     string
	description string
}

var campaignRules = map[string]campaignRule{
	"FIFTYOFF": {typ: discount.TypePercentage, value: "50", minimum: "1000", description: "50% off orders of 1000 or more"},
	"HAPPYHRS": {typ: discount.TypePercentage, value: "18", description: "Happy hours: 18% off"},
	"OVER9000": {typ: discount.TypeFixed, value: "90", minimum: "900", description: "90 off orders of 900 or more"},
	"GNULINUX": {typ: discount.TypePercentage, value: "15", description: "Open source discount: 15% off"},
}

var defaultRule = campaignRule{
	typ:         discount.TypePercentage,
	value:       "10",
	minimum:     "400",
	description: "Campaign code: 10% off orders of 400 or more",
}

func main() {
	var (
		dataDir     string
		databaseURL string
		quorum      int
		capacity    uint
		maxUses     int
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing gzip code dumps (*.gz)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&quorum, "quorum", 2, "number of dumps a code must appear in")
	flag.UintVar(&capacity, "capacity", 120_000_000, "expected codes per dump")
	flag.IntVar(&maxUses, "max-uses", 0, "usage cap per ingested code, 0 for unlimited")
	flag.Parse()

	lg, _ := zap.NewDevelopment()
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	opts := ingest.Options{Quorum: quorum, Capacity: capacity, ProgressEvery: 10_000_000}
	if err := run(ctx, dataDir, databaseURL, opts, maxUses); err != nil {
		lg.Fatal("Discount ingest failed", zap.Error(err))
	}
	lg.Info("Discount ingest completed")
}

func run(ctx context.Context, dataDir, databaseURL string, opts ingest.Options, maxUses int) error {
	lg := zctx.From(ctx)

	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list dumps")
	}
	lg.Info("Scanning dumps", zap.Strings("files", files), zap.Int("quorum", opts.Quorum))

	codes, err := ingest.FindCodes(ctx, files, opts)
	if err != nil {
		return errors.Wrap(err, "find codes")
	}
	lg.Info("Codes found", zap.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewDiscountRepository(pool)
	for i, code := range codes {
		rule, err := newRule(code, maxUses)
		if err != nil {
			return err
		}
		if err := repo.Upsert(ctx, rule); err != nil {
			return err
		}
		if (i+1)%100 == 0 || i+1 == len(codes) {
			lg.Info("Write progress", zap.Int("written", i+1), zap.Int("total", len(codes)))
		}
	}
	return nil
}

func newRule(code string, maxUses int) (*discount.Rule, error) {
	cr, ok := campaignRules[code]
	if !ok {
		cr = defaultRule
	}
	value, err := decimal.NewFromString(cr.value)
	if err != nil {
		return nil, errors.Wrapf(err, "value for %s", code)
	}
	minimum := decimal.Zero
	if cr.minimum != "" {
		if minimum, err = decimal.NewFromString(cr.minimum); err != nil {
			return nil, errors.Wrapf(err, "minimum for %s", code)
		}
	}
	rule := &discount.Rule{
		Code:               code,
		Type:               cr.typ,
		Value:              value,
		MinimumOrderAmount: minimum,
		Active:             true,
		Description:        cr.description,
	}
	if maxUses > 0 {
		rule.MaxUses = &maxUses
	}
	return rule, nil
}
