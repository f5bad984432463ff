// Package dispatch delivers a composed plan to every channel the user enabled.
// Channels are independent: one failing never blocks or retries another.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/stockpulse/internal/logger"
	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/models"
)

// Channel names used in results and metrics.
const (
	ChannelTelegram = "telegram"
	ChannelInApp    = "in_app"
)

// ChatSender is the chat bot channel.
type ChatSender interface {
	Send(ctx context.Context, chatID int64, text string, silent bool) error
	SendAudio(ctx context.Context, chatID int64, audio []byte) error
}

// Synthesizer converts a segment to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// InboxStore persists in-app notifications and their audio.
type InboxStore interface {
	AddInboxNotification(ctx context.Context, n *models.InboxNotification) error
	SaveAudioClip(ctx context.Context, c *models.AudioClip) error
}

// Config tunes pacing and per-call timeouts.
type Config struct {
	CharsPerSecond   float64
	MinPause         time.Duration
	MaxPause         time.Duration
	SendTimeout      time.Duration
	PublicBaseURL    string
	AudioContentType string
}

// Result holds the outcome per attempted channel; a nil error means the user
// received the plan's lead on that channel. Incomplete holds failures that
// happened after the lead went out, such as a dropped segment or voice note.
type Result struct {
	PerChannel map[string]error
	Incomplete map[string]error
}

// Succeeded reports whether at least one channel delivered the plan.
func (r Result) Succeeded() bool {
	for _, err := range r.PerChannel {
		if err == nil {
			return true
		}
	}
	return false
}

// Attempted reports whether any channel was tried.
func (r Result) Attempted() bool {
	return len(r.PerChannel) > 0
}

// Dispatcher sends plans.
type Dispatcher struct {
	chat   ChatSender
	speech Synthesizer
	inbox  InboxStore
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	newID  func() string
}

// New creates a dispatcher. Any collaborator may be nil, which disables it.
func New(chat ChatSender, speech Synthesizer, inbox InboxStore, cfg Config) *Dispatcher {
	if cfg.CharsPerSecond <= 0 {
		cfg.CharsPerSecond = 40
	}
	if cfg.MaxPause < cfg.MinPause {
		cfg.MaxPause = cfg.MinPause
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.AudioContentType == "" {
		cfg.AudioContentType = "audio/ogg"
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Dispatcher{
		chat:   chat,
		speech: speech,
		inbox:  inbox,
		cfg:    cfg,
		sleep:  sleepCtx,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pause is the delay before the segment that follows prev.
func (d *Dispatcher) Pause(prev string) time.Duration {
	secs := float64(utf8.RuneCountInString(prev)) / d.cfg.CharsPerSecond
	p := time.Duration(secs * float64(time.Second))
	if p < d.cfg.MinPause {
		p = d.cfg.MinPause
	}
	if d.cfg.MaxPause > 0 && p > d.cfg.MaxPause {
		p = d.cfg.MaxPause
	}
	return p
}

// Dispatch sends plan to every enabled channel of the user.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, settings *models.NotificationSettings, plan models.DeliveryPlan) Result {
	res := Result{PerChannel: make(map[string]error), Incomplete: make(map[string]error)}
	if settings == nil {
		return res
	}
	log := logger.With("user_id", userID, "plan", string(plan.Kind))

	useChat := d.chat != nil && settings.TelegramEnabled && settings.TelegramChatID != 0
	useInbox := d.inbox != nil && settings.InAppEnabled
	if !useChat && !useInbox {
		return res
	}

	var (
		mu    sync.Mutex
		g     errgroup.Group
		voice = newClips()
	)
	if settings.VoiceEnabled && d.speech != nil && len(plan.Segments) > 0 {
		// Synthesis overlaps the lead so the teaser is never held back by speech.
		g.Go(func() error {
			voice.set(d.synthesize(ctx, log.Warnf, plan.Segments))
			return nil
		})
	} else {
		voice.set(nil)
	}

	record := func(channel string, leadDelivered bool, err error) {
		mu.Lock()
		if leadDelivered {
			res.PerChannel[channel] = nil
			if err != nil {
				res.Incomplete[channel] = err
			}
		} else {
			res.PerChannel[channel] = err
		}
		mu.Unlock()

		status := "success"
		switch {
		case !leadDelivered:
			status = "error"
			log.Warnf("delivery via %s failed: %v", channel, err)
		case err != nil:
			status = "partial"
			log.Warnf("delivery via %s incomplete after the lead: %v", channel, err)
		}
		metrics.Deliveries.WithLabelValues(channel, status).Inc()
	}

	if useChat {
		g.Go(func() error {
			delivered, err := d.sendChat(ctx, settings.TelegramChatID, plan, voice)
			record(ChannelTelegram, delivered, err)
			return nil
		})
	}
	if useInbox {
		g.Go(func() error {
			err := d.sendInbox(ctx, userID, plan, voice)
			record(ChannelInApp, err == nil, err)
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// clips hands synthesized audio from the synthesis goroutine to the channels.
type clips struct {
	ready chan struct{}
	audio [][]byte
}

func newClips() *clips {
	return &clips{ready: make(chan struct{})}
}

func (c *clips) set(audio [][]byte) {
	c.audio = audio
	close(c.ready)
}

// wait blocks until synthesis finished. A cancelled ctx yields no audio.
func (c *clips) wait(ctx context.Context) [][]byte {
	select {
	case <-c.ready:
		return c.audio
	case <-ctx.Done():
		return nil
	}
}

// synthesize converts each segment once; failed segments get a nil clip.
func (d *Dispatcher) synthesize(ctx context.Context, warnf func(string, ...interface{}), segments []string) [][]byte {
	out := make([][]byte, len(segments))
	for i, seg := range segments {
		cctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		data, err := d.speech.Synthesize(cctx, seg)
		cancel()
		if err != nil {
			warnf("speech synthesis failed for segment %d: %v", i+1, err)
			metrics.ProviderErrors.WithLabelValues("speech").Inc()
			continue
		}
		out[i] = data
	}
	return out
}

// sendChat sends the lead at once and paces each following segment by the
// length of the message before it. leadDelivered is true once the user has the
// lead; a later error only means the follow-up was cut short.
func (d *Dispatcher) sendChat(ctx context.Context, chatID int64, plan models.DeliveryPlan, voice *clips) (leadDelivered bool, err error) {
	silent := plan.Severity != models.SeverityHigh
	lead := plan.Lead()
	if err := d.withTimeout(ctx, func(c context.Context) error {
		return d.chat.Send(c, chatID, lead, silent)
	}); err != nil {
		return false, fmt.Errorf("lead: %w", err)
	}
	if plan.Kind != models.PlanTeaserPlusSegments {
		return true, nil
	}

	prev := lead
	var audio [][]byte
	for i, seg := range plan.Segments {
		if err := d.sleep(ctx, d.Pause(prev)); err != nil {
			return true, err
		}
		if i == 0 {
			audio = voice.wait(ctx)
		}
		if err := d.withTimeout(ctx, func(c context.Context) error {
			return d.chat.Send(c, chatID, seg, true)
		}); err != nil {
			return true, fmt.Errorf("segment %d: %w", i+1, err)
		}
		if i < len(audio) && len(audio[i]) > 0 {
			if err := d.withTimeout(ctx, func(c context.Context) error {
				return d.chat.SendAudio(c, chatID, audio[i])
			}); err != nil {
				logger.Warn("Voice note %d to chat %d failed: %v", i+1, chatID, err)
			}
		}
		prev = seg
	}
	return true, nil
}

// sendInbox writes one record holding every segment, so it waits for audio.
func (d *Dispatcher) sendInbox(ctx context.Context, userID string, plan models.DeliveryPlan, voice *clips) error {
	var urls []string
	for i, data := range voice.wait(ctx) {
		if len(data) == 0 {
			continue
		}
		clip := &models.AudioClip{
			ID:          d.newID(),
			UserID:      userID,
			ContentType: d.cfg.AudioContentType,
			Data:        data,
			CreatedAt:   d.now(),
		}
		if err := d.inbox.SaveAudioClip(ctx, clip); err != nil {
			logger.Warn("Failed to store audio for segment %d: %v", i+1, err)
			continue
		}
		urls = append(urls, d.cfg.PublicBaseURL+"/api/audio/"+clip.ID)
	}

	n := &models.InboxNotification{
		ID:        d.newID(),
		UserID:    userID,
		Kind:      plan.Kind,
		Title:     title(plan),
		Body:      plan.Lead(),
		Segments:  plan.Segments,
		AudioURLs: urls,
		Severity:  plan.Severity,
		Symbols:   plan.Symbols,
		CreatedAt: d.now(),
	}
	return d.withTimeout(ctx, func(c context.Context) error {
		return d.inbox.AddInboxNotification(c, n)
	})
}

func title(plan models.DeliveryPlan) string {
	switch {
	case len(plan.Symbols) == 0:
		return "Market check"
	case len(plan.Symbols) <= 3:
		return strings.Join(plan.Symbols, ", ")
	default:
		return fmt.Sprintf("%d holdings moving", len(plan.Symbols))
	}
}

func (d *Dispatcher) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return fn(c)
}
