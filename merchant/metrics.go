package merchant

import (
	"time"

	"github.com/shopspring/decimal"
)

type MetricsRange string

const (
	MetricsRangeWeekly  MetricsRange = "weekly"
	MetricsRangeMonthly MetricsRange = "monthly"
)

func (self MetricsRange) Days() int {
	switch self {
	case MetricsRangeMonthly:
		return 30
	default:
		return 7
	}
}

type DailyPerformance struct {
	Date     time.Time
	Day      string
	Earnings decimal.Decimal
}

type PerformanceMetrics struct {
	Daily        []*DailyPerformance
	RangeTotal   decimal.Decimal
	DailyAverage decimal.Decimal
}

// daily earnings from fulfilled orders over a trailing window ending
// today, aggregated from the orders snapshot
func ComputePerformanceMetrics(
	orders []*Order,
	metricsRange MetricsRange,
	now time.Time,
	location *time.Location,
) *PerformanceMetrics {
	days := metricsRange.Days()
	nowLocal := now.In(location)
	end := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), 0, 0, 0, 0, location).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	dayEarnings := make([]decimal.Decimal, days)
	for i := 0; i < days; i += 1 {
		dayEarnings[i] = decimal.Zero
	}
	for _, order := range orders {
		if !order.Status.IsFulfilled() {
			continue
		}
		createdTime := order.CreatedTime.In(location)
		if createdTime.Before(start) || !createdTime.Before(end) {
			continue
		}
		dayIndex := int(createdTime.Sub(start).Hours() / 24)
		if dayIndex < 0 || days <= dayIndex {
			continue
		}
		dayEarnings[dayIndex] = dayEarnings[dayIndex].Add(order.TotalAmount)
	}

	daily := make([]*DailyPerformance, days)
	rangeTotal := decimal.Zero
	for i := 0; i < days; i += 1 {
		date := start.AddDate(0, 0, i)
		daily[i] = &DailyPerformance{
			Date:     date,
			Day:      date.Format("Mon"),
			Earnings: dayEarnings[i],
		}
		rangeTotal = rangeTotal.Add(dayEarnings[i])
	}

	return &PerformanceMetrics{
		Daily:        daily,
		RangeTotal:   rangeTotal,
		DailyAverage: rangeTotal.Div(decimal.NewFromInt(int64(days))).Round(0),
	}
}
