package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/yaml"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-checkout/db"
	"github.com/xenking/kitchen-checkout/internal/domain/catalog"
	"github.com/xenking/kitchen-checkout/internal/domain/discount"
	"github.com/xenking/kitchen-checkout/internal/domain/loyalty"
	"github.com/xenking/kitchen-checkout/internal/domain/tax"
	"github.com/xenking/kitchen-checkout/internal/storage/postgres"
)

type seedFile struct {
	Menu []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Price       string `yaml:"price"`
		Category    string `yaml:"category"`
		Unavailable bool   `yaml:"unavailable"`
	} `yaml:"menu"`
	Discounts []struct {
		Code               string `yaml:"code"`
		Type               string `yaml:"type"`
		Value              string `yaml:"value"`
		MinimumOrderAmount string `yaml:"minimum_order_amount"`
		MaxDiscount        string `yaml:"max_discount"`
		MaxUses            *int   `yaml:"max_uses"`
		Description        string `yaml:"description"`
	} `yaml:"discounts"`
	Taxes []struct {
		ID        string `yaml:"id"`
		Name      string `yaml:"name"`
		Rate      string `yaml:"rate"`
		AppliesTo string `yaml:"applies_to"`
	} `yaml:"taxes"`
	Loyalty []struct {
		CustomerID string `yaml:"customer_id"`
		Points     int64  `yaml:"points"`
	} `yaml:"loyalty"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "", "path to a seed YAML file (defaults to the embedded demo seed)")
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

	if err := run(ctx, lg, databaseURL, seedPath); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath string) error {
	data := db.DemoSeed
	if seedPath != "" {
		var err error
		if data, err = os.ReadFile(seedPath); err != nil {
			return errors.Wrap(err, "read seed file")
		}
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	for _, step := range []struct {
		name string
		fn   func(context.Context, *zap.Logger, *pgxpool.Pool, *seedFile) error
	}{
		{"menu", seedMenu},
		{"discounts", seedDiscounts},
		{"taxes", seedTaxes},
		{"loyalty", seedLoyalty},
	} {
		if err := step.fn(ctx, lg.Named(step.name), pool, &seed); err != nil {
			return errors.Wrapf(err, "seed %s", step.name)
		}
	}
	return nil
}

// optDecimal parses s, treating an empty string as zero.
func optDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func seedMenu(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, seed *seedFile) error {
	repo := postgres.NewMenuRepository(pool)
	for _, m := range seed.Menu {
		price, err := decimal.NewFromString(m.Price)
		if err != nil {
			return errors.Wrapf(err, "price of %s", m.ID)
		}
		if err := repo.Upsert(ctx, &catalog.Item{
			ID:        m.ID,
			Name:      m.Name,
			Price:     price,
			Category:  m.Category,
			Available: !m.Unavailable,
		}); err != nil {
			return err
		}
		lg.Info("Upserted menu item", zap.String("id", m.ID), zap.String("price", price.StringFixed(2)))
	}
	return nil
}

func seedDiscounts(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, seed *seedFile) error {
	repo := postgres.NewDiscountRepository(pool)
	for _, d := range seed.Discounts {
		rule := &discount.Rule{
			Code:        d.Code,
			Type:        discount.Type(d.Type),
			Active:      true,
			MaxUses:     d.MaxUses,
			Description: d.Description,
		}
		if !rule.Type.Valid() {
			return errors.Errorf("discount %s: unknown type %q", d.Code, d.Type)
		}
		var err error
		if rule.Value, err = decimal.NewFromString(d.Value); err != nil {
			return errors.Wrapf(err, "value of %s", d.Code)
		}
		if rule.MinimumOrderAmount, err = optDecimal(d.MinimumOrderAmount); err != nil {
			return errors.Wrapf(err, "minimum order amount of %s", d.Code)
		}
		if rule.MaxDiscount, err = optDecimal(d.MaxDiscount); err != nil {
			return errors.Wrapf(err, "max discount of %s", d.Code)
		}
		if err := repo.Upsert(ctx, rule); err != nil {
			return err
		}
		lg.Info("Upserted discount code", zap.String("code", rule.Code), zap.Int("uses", rule.Uses))
	}
	return nil
}

func seedTaxes(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, seed *seedFile) error {
	repo := postgres.NewTaxRepository(pool)
	for _, t := range seed.Taxes {
		rate, err := decimal.NewFromString(t.Rate)
		if err != nil {
			return errors.Wrapf(err, "rate of %s", t.ID)
		}
		cfg := &tax.Config{ID: t.ID, Name: t.Name, Rate: rate, AppliesTo: t.AppliesTo, Active: true}
		if cfg.AppliesTo == "" {
			cfg.AppliesTo = tax.AppliesToAll
		}
		if err := repo.Upsert(ctx, cfg); err != nil {
			return err
		}
		lg.Info("Upserted tax config", zap.String("id", t.ID), zap.Int64("position", cfg.Position))
	}
	return nil
}

// seedLoyalty tops balances up to the seeded amount so reruns do not
// credit twice.
func seedLoyalty(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, seed *seedFile) error {
	repo := postgres.NewLoyaltyRepository(pool)
	for _, a := range seed.Loyalty {
		current, err := repo.Balance(ctx, a.CustomerID)
		if err != nil && !errors.Is(err, loyalty.ErrAccountNotFound) {
			return err
		}
		if current >= a.Points {
			continue
		}
		balance, err := repo.Credit(ctx, a.CustomerID, a.Points-current, "seed")
		if err != nil {
			return err
		}
		lg.Info("Credited loyalty points", zap.String("customer_id", a.CustomerID), zap.Int64("balance", balance))
	}
	return nil
}
