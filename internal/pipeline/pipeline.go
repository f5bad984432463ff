// Package pipeline runs one user's full check: fetch and classify every holding,
// aggregate, compose, dispatch, and record what was sent. Scheduled and manual
// runs share this entry point.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/stockpulse/internal/aggregator"
	"github.com/rewired-gh/stockpulse/internal/composer"
	"github.com/rewired-gh/stockpulse/internal/dispatch"
	"github.com/rewired-gh/stockpulse/internal/logger"
	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/models"
	"github.com/rewired-gh/stockpulse/internal/monitor"
	"github.com/rewired-gh/stockpulse/internal/storage"
)

// Trigger tells why a run started.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// recordTimeout bounds ledger writes made after the run context is gone.
const recordTimeout = 5 * time.Second

// ErrBusy is returned to scheduled runs when the user is already being processed.
var ErrBusy = errors.New("user is already being processed")

// Store is the persistence the pipeline reads.
type Store interface {
	ListHoldings(ctx context.Context, userID string) ([]models.Holding, error)
	GetSettings(ctx context.Context, userID string) (*models.NotificationSettings, error)
	GetSettingsByChatID(ctx context.Context, chatID int64) (*models.NotificationSettings, error)
}

// Context fetches per-symbol and market context.
type Context interface {
	Observe(ctx context.Context, symbol string) (models.Observation, error)
	News(ctx context.Context, symbol string) models.NewsContext
	Social(ctx context.Context, symbol string) models.SocialContext
	Market(ctx context.Context) models.MarketContext
}

// Baseliner estimates the volatility baseline of a symbol.
type Baseliner interface {
	Baseline(ctx context.Context, symbol string) models.VolatilityBaseline
}

// Dispatcher delivers one plan.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, settings *models.NotificationSettings, plan models.DeliveryPlan) dispatch.Result
}

// Recorder writes ledger records after a successful send.
type Recorder interface {
	Record(ctx context.Context, userID, symbol string, kind models.EventKind) bool
}

// Result summarizes one run.
type Result struct {
	SentCount     int      `json:"sent_count"`
	SkippedCount  int      `json:"skipped_count"`
	MovingSymbols []string `json:"moving_symbols"`
	Quiet         bool     `json:"quiet"`
	CalmSent      bool     `json:"calm_sent"`
}

// Deps bundles the pipeline collaborators.
type Deps struct {
	Store      Store
	Context    Context
	Baseline   Baseliner
	Classifier *monitor.Classifier
	Aggregator *aggregator.Aggregator
	Composer   *composer.Composer
	Dispatcher Dispatcher
	Ledger     Recorder
}

// Pipeline processes users.
type Pipeline struct {
	deps        Deps
	parallelism int

	mu    sync.Mutex
	locks map[string]*userLock
}

// userLock serializes runs of one user. Entries live only while a run holds or
// waits for them, so the map stays as small as the set of active users.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a pipeline. parallelism bounds concurrent symbol fetches per user.
func New(deps Deps, parallelism int) *Pipeline {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Pipeline{deps: deps, parallelism: parallelism, locks: make(map[string]*userLock)}
}

// acquire takes the user's lock, waiting for it when wait is set. The returned
// release must be called exactly once when ok is true.
func (p *Pipeline) acquire(userID string, wait bool) (release func(), ok bool) {
	p.mu.Lock()
	l, found := p.locks[userID]
	if !found {
		l = &userLock{}
		p.locks[userID] = l
	}
	l.refs++
	p.mu.Unlock()

	unref := func() {
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, userID)
		}
		p.mu.Unlock()
	}

	if wait {
		l.mu.Lock()
	} else if !l.mu.TryLock() {
		unref()
		return nil, false
	}
	return func() {
		l.mu.Unlock()
		unref()
	}, true
}

// ProcessUser runs the pipeline for one user. Scheduled runs skip a user that is
// already being processed; manual runs wait for it.
func (p *Pipeline) ProcessUser(ctx context.Context, userID string, trigger Trigger) (Result, error) {
	release, ok := p.acquire(userID, trigger == TriggerManual)
	if !ok {
		metrics.UsersProcessed.WithLabelValues(string(trigger), "busy").Inc()
		return Result{}, ErrBusy
	}
	defer release()

	res, err := p.process(ctx, userID, trigger)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.UsersProcessed.WithLabelValues(string(trigger), status).Inc()
	return res, err
}

func (p *Pipeline) process(ctx context.Context, userID string, trigger Trigger) (Result, error) {
	log := logger.With("user_id", userID, "trigger", string(trigger))
	manual := trigger == TriggerManual

	settings, err := p.deps.Store.GetSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, fmt.Errorf("no notification settings for user %s: %w", userID, err)
		}
		return Result{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if !manual && !settings.HasEnabledChannel() {
		return Result{}, nil
	}

	holdings, err := p.deps.Store.ListHoldings(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load holdings: %w", err)
	}
	if !manual && len(holdings) == 0 {
		return Result{}, nil
	}

	events := p.detect(ctx, userID, holdings)
	res := Result{MovingSymbols: make([]string, 0, len(events))}
	for _, ev := range events {
		res.MovingSymbols = append(res.MovingSymbols, ev.Symbol)
	}

	batch := p.deps.Aggregator.Aggregate(ctx, userID, settings, events)
	res.SkippedCount = len(batch.Skipped)

	if batch.Quiet {
		res.Quiet = true
		if !manual {
			return res, nil
		}
		market := p.deps.Context.Market(ctx)
		plan := p.deps.Composer.ComposeCalm(ctx, len(holdings), batch.Skipped, market, batch.Greet)
		if p.deps.Dispatcher.Dispatch(ctx, userID, settings, plan).Succeeded() {
			res.CalmSent = true
			p.deps.Aggregator.MarkMessaged(context.WithoutCancel(ctx), userID)
		}
		return res, nil
	}

	market := p.deps.Context.Market(ctx)
	delivered := make(map[string]bool)
	for _, plan := range p.plans(ctx, batch, market) {
		if ctx.Err() != nil {
			break
		}
		dr := p.deps.Dispatcher.Dispatch(ctx, userID, settings, plan)
		if !dr.Succeeded() {
			log.Warnf("plan %s for %s was not delivered on any channel", plan.Kind, strings.Join(plan.Symbols, ","))
			continue
		}
		for _, sym := range plan.Symbols {
			delivered[sym] = true
		}
	}

	// What reached the user is recorded even when the run is being cancelled,
	// otherwise a restart would alert again.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	for _, ev := range batch.Events {
		if !delivered[ev.Symbol] {
			continue
		}
		p.deps.Ledger.Record(recordCtx, userID, ev.Symbol, ev.LedgerKind())
		res.SentCount++
	}
	if res.SentCount > 0 {
		p.deps.Aggregator.MarkMessaged(recordCtx, userID)
	}
	log.Infof("run finished: sent=%d skipped=%d moving=%v", res.SentCount, res.SkippedCount, res.MovingSymbols)
	return res, nil
}

// plans builds the ordered delivery plans; a combined summary always comes first.
func (p *Pipeline) plans(ctx context.Context, batch aggregator.Batch, market models.MarketContext) []models.DeliveryPlan {
	if !batch.Summary {
		return []models.DeliveryPlan{p.deps.Composer.ComposeEvent(ctx, batch.Events[0], market, batch.Greet)}
	}

	summary := p.deps.Composer.ComposeSummary(ctx, batch.Events, market, batch.Greet)
	if len(batch.Events) > composer.MaxDetailedEvents {
		return []models.DeliveryPlan{summary}
	}
	plans := []models.DeliveryPlan{summary}
	for _, ev := range batch.Events {
		plans = append(plans, p.deps.Composer.ComposeEvent(ctx, ev, market, false))
	}
	return plans
}

// detect fetches and classifies every holding concurrently. A symbol whose quote
// cannot be fetched is skipped for this run.
func (p *Pipeline) detect(ctx context.Context, userID string, holdings []models.Holding) []models.AbnormalEvent {
	var (
		mu     sync.Mutex
		events []models.AbnormalEvent
		g      errgroup.Group
	)
	g.SetLimit(p.parallelism)

	for _, h := range holdings {
		symbol := h.Symbol
		g.Go(func() error {
			obs, err := p.deps.Context.Observe(ctx, symbol)
			if err != nil {
				logger.With("user_id", userID, "symbol", symbol).Warnf("skipping symbol: %v", err)
				return nil
			}
			baseline := p.deps.Baseline.Baseline(ctx, symbol)
			news := p.deps.Context.News(ctx, symbol)

			ev := p.deps.Classifier.Classify(userID, symbol, obs, baseline, news)
			if ev == nil {
				return nil
			}
			monitor.AttachSocial(ev, p.deps.Context.Social(ctx, symbol))

			mu.Lock()
			events = append(events, *ev)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	models.SortEvents(events)
	return events
}

// CheckChat runs a manual check for the user bound to a Telegram chat and returns
// a short reply for anything the run did not already deliver.
func (p *Pipeline) CheckChat(ctx context.Context, chatID int64) (string, error) {
	settings, err := p.deps.Store.GetSettingsByChatID(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return "This chat is not linked to an account yet. Send /start to see its chat ID.", nil
	}
	if err != nil {
		return "", err
	}

	res, err := p.ProcessUser(ctx, settings.UserID, TriggerManual)
	if err != nil {
		return "", err
	}
	switch {
	case res.SentCount > 0, res.CalmSent:
		return "", nil
	case !settings.TelegramEnabled:
		return "Check finished. Telegram alerts are switched off, see the app for results.", nil
	default:
		return fmt.Sprintf("Check finished: %d moving, %d already reported.", len(res.MovingSymbols), res.SkippedCount), nil
	}
}
