// Package handlers contains the HTTP handlers of the entitlement API.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"invoicely/internal/core"
	"invoicely/internal/external"
	"invoicely/internal/types"
)

const maxWebhookBodySize = 64 * 1024

// ProviderEventApplier feeds provider events into the tier state machine.
type ProviderEventApplier interface {
	ApplyProviderEvent(ctx context.Context, ev types.ProviderEvent) (bool, error)
}

// StripeWebhookHandler receives Stripe subscription events. It is not behind
// bearer auth; the Stripe-Signature header authenticates the caller.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	applier  ProviderEventApplier
	secret   string
	logger   *slog.Logger
}

func NewStripeWebhookHandler(verifier external.WebhookVerifier, applier ProviderEventApplier, secret string, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{verifier: verifier, applier: applier, secret: secret, logger: logger}
}

func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies, parses and applies one event. Events that cannot be mapped
// or are stale are acknowledged with 200. Transient store failures answer 503
// so Stripe redelivers; ordering is protected by the event timestamp.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read request body", err))
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, sig, h.secret); err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "webhook signature verification failed", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid webhook event JSON", err))
		return
	}
	log := h.logger.With("event_id", event.ID, "event_type", event.Type)

	ev, ok := event.toProviderEvent()
	if !ok {
		log.InfoContext(ctx, "ignoring webhook event")
		w.WriteHeader(http.StatusOK)
		return
	}

	applied, err := h.applier.ApplyProviderEvent(ctx, ev)
	if err != nil {
		switch {
		case types.IsCode(err, types.ErrCodeNetworkUnavailable), types.IsCode(err, types.ErrCodeConflictRetryExhausted):
			log.ErrorContext(ctx, "webhook event not applied, asking for redelivery", "error", err)
			core.Error(w, r, err)
			return
		default:
			log.ErrorContext(ctx, "webhook event processing failed", "error", err)
		}
	} else {
		log.InfoContext(ctx, "webhook event processed", "applied", applied, "user_id", ev.UserID)
	}
	w.WriteHeader(http.StatusOK)
}

type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscriptionObj struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoiceObj struct {
	Customer            string `json:"customer"`
	Subscription        string `json:"subscription"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (e *stripeWebhookEvent) occurredAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// toProviderEvent maps a Stripe event onto the state machine's vocabulary.
// ok is false for events this service does not act on.
func (e *stripeWebhookEvent) toProviderEvent() (types.ProviderEvent, bool) {
	ev := types.ProviderEvent{ID: e.ID, OccurredAt: e.occurredAt()}

	switch e.Type {
	case external.EventStripeCheckoutCompleted:
		var s stripeCheckoutSessionObj
		if json.Unmarshal(e.Data.Object, &s) != nil {
			return ev, false
		}
		ev.Type = types.ProviderEventCheckoutCompleted
		ev.UserID = s.ClientReferenceID
		if ev.UserID == "" {
			ev.UserID = s.Metadata["user_id"]
		}
		ev.CustomerID = s.Customer
		ev.SubscriptionID = s.Subscription
		return ev, ev.UserID != ""

	case external.EventStripeSubUpdated, external.EventStripeSubDeleted:
		var s stripeSubscriptionObj
		if json.Unmarshal(e.Data.Object, &s) != nil {
			return ev, false
		}
		ev.UserID = s.Metadata["user_id"]
		ev.CustomerID = s.Customer
		ev.SubscriptionID = s.ID
		if end := s.periodEnd(); end > 0 {
			t := time.Unix(end, 0).UTC()
			ev.CurrentPeriodEnd = &t
		}

		if e.Type == external.EventStripeSubDeleted {
			ev.Type = types.ProviderEventSubscriptionEnded
			return ev, s.ID != ""
		}
		switch external.MapSubscriptionStatus(s.Status, s.CancelAtPeriodEnd) {
		case types.SubStatusActive:
			ev.Type = types.ProviderEventPaymentRecovered
		case types.SubStatusPastDue:
			ev.Type = types.ProviderEventPaymentFailed
		case types.SubStatusCanceled:
			ev.Type = types.ProviderEventCancellationScheduled
		default:
			return ev, false
		}
		return ev, s.ID != ""

	case external.EventStripeInvoicePaid, external.EventStripePaymentFailed:
		var inv stripeInvoiceObj
		if json.Unmarshal(e.Data.Object, &inv) != nil {
			return ev, false
		}
		ev.Type = types.ProviderEventPaymentRecovered
		if e.Type == external.EventStripePaymentFailed {
			ev.Type = types.ProviderEventPaymentFailed
		}
		ev.CustomerID = inv.Customer
		ev.SubscriptionID = inv.Subscription
		if inv.SubscriptionDetails != nil {
			ev.UserID = inv.SubscriptionDetails.Metadata["user_id"]
		}
		if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
			if ev.SubscriptionID == "" {
				ev.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription
			}
			if ev.UserID == "" {
				ev.UserID = inv.Parent.SubscriptionDetails.Metadata["user_id"]
			}
		}
		return ev, ev.SubscriptionID != "" || ev.UserID != ""
	}
	return ev, false
}

// periodEnd prefers the subscription-level field and falls back to the first
// item, where newer API versions report it.
func (s *stripeSubscriptionObj) periodEnd() int64 {
	if s.CurrentPeriodEnd > 0 {
		return s.CurrentPeriodEnd
	}
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].CurrentPeriodEnd
	}
	return 0
}
