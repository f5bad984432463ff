package monitor

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/stockpulse/internal/logger"
	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/models"
)

// HistorySource returns the most recent n daily closes, oldest first.
type HistorySource interface {
	DailyCloses(ctx context.Context, symbol string, n int) ([]float64, error)
}

// Estimator computes the trailing volatility baseline of a symbol.
type Estimator struct {
	source   HistorySource
	days     int
	fallback float64
	timeout  time.Duration
}

// NewEstimator creates an estimator over the last days closes. A non-positive
// fallback selects models.DefaultVolatility.
func NewEstimator(source HistorySource, days int, fallback float64, timeout time.Duration) *Estimator {
	if days < 2 {
		days = 20
	}
	if fallback <= 0 {
		fallback = models.DefaultVolatility
	}
	return &Estimator{source: source, days: days, fallback: fallback, timeout: timeout}
}

// Estimate returns the sample standard deviation of day-over-day percent returns.
// It never fails and never returns a non-positive value.
func (e *Estimator) Estimate(ctx context.Context, symbol string) float64 {
	if e.source == nil {
		return e.fallback
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	closes, err := e.source.DailyCloses(ctx, symbol, e.days)
	if err != nil {
		logger.Warn("Volatility history unavailable for %s, using default: %v", symbol, err)
		metrics.ProviderErrors.WithLabelValues("history").Inc()
		return e.fallback
	}
	return e.FromCloses(closes)
}

// Baseline wraps Estimate into a models.VolatilityBaseline.
func (e *Estimator) Baseline(ctx context.Context, symbol string) models.VolatilityBaseline {
	return models.VolatilityBaseline{Symbol: symbol, TrailingStdDevPercent: e.Estimate(ctx, symbol)}
}

// FromCloses computes the baseline from closes ordered oldest first.
func (e *Estimator) FromCloses(closes []float64) float64 {
	returns := PercentReturns(closes)
	if len(returns) < 2 {
		return e.fallback
	}
	sd := stat.StdDev(returns, nil)
	if sd <= 0 || math.IsNaN(sd) || math.IsInf(sd, 0) {
		return e.fallback
	}
	return sd
}

// PercentReturns converts consecutive closes into percent returns. Pairs with a
// non-positive previous close are skipped.
func PercentReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, (closes[i]-prev)/prev*100)
	}
	return out
}
