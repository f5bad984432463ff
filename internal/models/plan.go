package models

import (
	"errors"
	"strings"
	"time"
)

// PlanKind is the delivery plan shape.
type PlanKind string

const (
	PlanTextOnly           PlanKind = "text_only"
	PlanTeaserPlusSegments PlanKind = "teaser_plus_segments"
	PlanSummaryToApp       PlanKind = "summary_to_app"
)

// DeliveryPlan is what the dispatcher sends. Text plans use Body; teaser plans use
// Teaser followed by Segments in order.
type DeliveryPlan struct {
	Kind     PlanKind
	Body     string
	Teaser   string
	Segments []string
	Greeting bool
	Severity Severity
	// Symbols lists the symbols this plan reports on.
	Symbols []string
	// Fallback is set when the text came from the deterministic template.
	Fallback bool
}

// Lead returns the first message of the plan.
func (p *DeliveryPlan) Lead() string {
	if p.Kind == PlanTeaserPlusSegments {
		return p.Teaser
	}
	return p.Body
}

// Validate checks the plan invariants.
func (p *DeliveryPlan) Validate() error {
	switch p.Kind {
	case PlanTextOnly, PlanSummaryToApp:
		if strings.TrimSpace(p.Body) == "" {
			return errors.New("plan body must not be empty")
		}
	case PlanTeaserPlusSegments:
		if strings.TrimSpace(p.Teaser) == "" {
			return errors.New("plan teaser must not be empty")
		}
		if len(p.Segments) == 0 {
			return errors.New("teaser plan must have at least one segment")
		}
		for _, s := range p.Segments {
			if strings.TrimSpace(s) == "" {
				return errors.New("plan segments must not be empty")
			}
		}
	default:
		return errors.New("unknown plan kind")
	}
	return nil
}

// SentNotificationRecord is one deduplication ledger row.
type SentNotificationRecord struct {
	UserID    string
	Symbol    string
	EventKind EventKind
	SentAt    time.Time
	ExpiresAt time.Time
}

// InboxNotification is a persisted in-app notification.
type InboxNotification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      PlanKind  `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Segments  []string  `json:"segments,omitempty"`
	AudioURLs []string  `json:"audio_urls,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	Symbols   []string  `json:"symbols,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// AudioClip is a synthesized speech segment served to the inbox.
type AudioClip struct {
	ID          string
	UserID      string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}
