package order

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xenking/kitchen-checkout/internal/domain/order"

type metrics struct {
	finalized       metric.Int64Counter
	submitFailures  metric.Int64Counter
	promoRejections metric.Int64Counter
	taxDegraded     metric.Int64Counter
	orderTotal      metric.Float64Histogram
	pointsRedeemed  metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.finalized, err = meter.Int64Counter("kitchen.orders.finalized",
		metric.WithDescription("Orders persisted by the order store"),
	); err != nil {
		return nil, errors.Wrap(err, "orders finalized counter")
	}
	if m.submitFailures, err = meter.Int64Counter("kitchen.orders.submit_failures",
		metric.WithDescription("Failed order submissions"),
	); err != nil {
		return nil, errors.Wrap(err, "submit failures counter")
	}
	if m.promoRejections, err = meter.Int64Counter("kitchen.discounts.rejected",
		metric.WithDescription("Discount codes rejected as ineligible"),
	); err != nil {
		return nil, errors.Wrap(err, "discount rejections counter")
	}
	if m.taxDegraded, err = meter.Int64Counter("kitchen.tax.degraded",
		metric.WithDescription("Orders priced without tax because tax configs were unavailable"),
	); err != nil {
		return nil, errors.Wrap(err, "tax degraded counter")
	}
	if m.orderTotal, err = meter.Float64Histogram("kitchen.orders.total_amount",
		metric.WithDescription("Total amount of finalized orders"),
	); err != nil {
		return nil, errors.Wrap(err, "order total histogram")
	}
	if m.pointsRedeemed, err = meter.Int64Counter("kitchen.loyalty.points_redeemed",
		metric.WithDescription("Loyalty points consumed by finalized orders"),
	); err != nil {
		return nil, errors.Wrap(err, "points redeemed counter")
	}
	return &m, nil
}
