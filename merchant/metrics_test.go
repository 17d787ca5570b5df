package merchant

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/shopspring/decimal"
)

func TestComputePerformanceMetricsWeekly(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	orders := []*Order{
		// today, fulfilled
		testOrder(NewId(), OrderStatusReady, 5000, now),
		testOrder(NewId(), OrderStatusDelivered, 2000, now.Add(-2*time.Hour)),
		// three days ago, fulfilled
		testOrder(NewId(), OrderStatusDelivered, 3000, now.AddDate(0, 0, -3)),
		// today but not fulfilled
		testOrder(NewId(), OrderStatusPending, 9000, now),
		testOrder(NewId(), OrderStatusCancelled, 9000, now),
		// outside the window
		testOrder(NewId(), OrderStatusReady, 9000, now.AddDate(0, 0, -8)),
	}

	metrics := ComputePerformanceMetrics(orders, MetricsRangeWeekly, now, time.UTC)

	assert.Equal(t, len(metrics.Daily), 7)
	assert.Equal(t, metrics.Daily[6].Earnings, decimal.NewFromInt(7000))
	assert.Equal(t, metrics.Daily[3].Earnings, decimal.NewFromInt(3000))
	assert.Equal(t, metrics.RangeTotal, decimal.NewFromInt(10000))

	// days are labeled, oldest first, ending today
	assert.Equal(t, metrics.Daily[6].Day, "Mon")
	assert.Equal(t, metrics.Daily[0].Date.Day(), 25)
}

func TestComputePerformanceMetricsMonthly(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	orders := []*Order{
		testOrder(NewId(), OrderStatusDelivered, 3000, now.AddDate(0, 0, -20)),
	}

	metrics := ComputePerformanceMetrics(orders, MetricsRangeMonthly, now, time.UTC)
	assert.Equal(t, len(metrics.Daily), 30)
	assert.Equal(t, metrics.RangeTotal, decimal.NewFromInt(3000))
	assert.Equal(t, metrics.DailyAverage, decimal.NewFromInt(100))
}

func TestComputePerformanceMetricsEmpty(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	metrics := ComputePerformanceMetrics([]*Order{}, MetricsRangeWeekly, now, time.UTC)
	assert.Equal(t, len(metrics.Daily), 7)
	assert.Equal(t, metrics.RangeTotal, decimal.Zero)
}

func TestMetricsRangeDays(t *testing.T) {
	assert.Equal(t, MetricsRangeWeekly.Days(), 7)
	assert.Equal(t, MetricsRangeMonthly.Days(), 30)
	// an unknown range falls back to weekly
	assert.Equal(t, MetricsRange("").Days(), 7)
}
