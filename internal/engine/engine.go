// Package engine drives the group-buy setup conversation. Every
// inbound event is handled by one short-lived invocation: the engine
// loads the participant's state from the durable store, dispatches to
// the handler for the current state, and persists the outcome before
// returning. Nothing is kept in memory between events.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"groupbuy-bot/internal/domain"
)

// Store is the persistence capability the engine consumes. Loads
// degrade to empty results and saves are fire-and-forget; the adapter
// owns the logging of store failures.
type Store interface {
	LoadAllScratch(ctx context.Context) map[string]domain.Scratch
	SaveScratch(ctx context.Context, participantID string, data domain.Scratch)
	LoadAllInstances(ctx context.Context, name string) map[string]domain.State
	SaveInstance(ctx context.Context, name, participantID string, state domain.State)
	DropParticipant(ctx context.Context, participantID, name string)
}

// Messenger delivers outbound content. Each call fails independently
// and is never retried.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons [][]domain.Button) (int64, error)
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, buttons [][]domain.Button) error
	AnswerCallbackQuery(ctx context.Context, callbackID string) error
}

// OfferSink receives the assembled record exactly once, on confirmation.
type OfferSink interface {
	Publish(ctx context.Context, rec domain.OfferRecord) error
}

// HandoffBridge moves origin-scope context from a group trigger to the
// private flow.
type HandoffBridge interface {
	Put(ctx context.Context, participantID int64, h domain.Handoff)
	Take(ctx context.Context, participantID int64) (domain.Handoff, bool)
	Delete(ctx context.Context, participantID int64)
}

// httpStatusCoder is implemented by delivery errors that carry the
// upstream HTTP status.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Engine is the dialogue state machine plus its entry points.
type Engine struct {
	store  Store
	msgr   Messenger
	offers OfferSink
	bridge HandoffBridge
	name   string
	log    *slog.Logger
}

// New creates an Engine for the named conversation.
func New(store Store, msgr Messenger, offers OfferSink, bridge HandoffBridge, name string, log *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: store must not be nil")
	}
	if msgr == nil {
		return nil, errors.New("engine: messenger must not be nil")
	}
	if offers == nil {
		return nil, errors.New("engine: offer sink must not be nil")
	}
	if bridge == nil {
		return nil, errors.New("engine: handoff bridge must not be nil")
	}
	if name == "" {
		return nil, errors.New("engine: conversation name must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, msgr: msgr, offers: offers, bridge: bridge, name: name, log: log}, nil
}

// HandleEvent processes one inbound event end to end. Every failure
// category short of process initialization is recovered here; the
// transport only ever sees an acknowledgement.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.Event) {
	if ev.CallbackID != "" {
		if err := e.msgr.AnswerCallbackQuery(ctx, ev.CallbackID); err != nil {
			e.logFailure(ErrorDeliveryFailure, "answer_callback", err, ev)
		}
	}

	if ev.FromGroup() {
		if command(ev.Text) == cmdNewBuy {
			e.startFromGroup(ctx, ev)
		}
		return
	}
	if ev.ScopeType != domain.ScopePrivate {
		return
	}

	pid := participantKey(ev.ParticipantID)
	state := e.store.LoadAllInstances(ctx, e.name)[pid]
	scratch := e.store.LoadAllScratch(ctx)[pid]
	if scratch == nil {
		scratch = domain.Scratch{}
	}

	next := e.dispatch(ctx, ev, state, scratch)

	switch next {
	case domain.StateEnded:
		// Terminal marker stored explicitly, distinct from "never
		// started", so a replayed event routes to the fallback.
		e.store.SaveScratch(ctx, pid, domain.Scratch{})
		e.store.SaveInstance(ctx, e.name, pid, domain.StateEnded)
	case domain.StateNone:
		// Full reset from the lost-context fallback.
		e.store.DropParticipant(ctx, pid, e.name)
	default:
		e.store.SaveScratch(ctx, pid, scratch)
		e.store.SaveInstance(ctx, e.name, pid, next)
	}
}

// dispatch routes one private-scope event through the closed state set.
// Every state defines a response to every input shape, including "none
// matched", so no event is ever silently dropped.
func (e *Engine) dispatch(ctx context.Context, ev domain.Event, state domain.State, scratch domain.Scratch) domain.State {
	if command(ev.Text) == cmdCancel {
		return e.cancel(ctx, ev)
	}

	switch state {
	case domain.StateNone, domain.StateEnded:
		switch {
		case command(ev.Text) == cmdNewBuy:
			return e.startPrivate(ctx, ev, scratch)
		case ev.CallbackData == tokenStartSetup:
			return e.startFromHandoff(ctx, ev, scratch)
		default:
			return e.lostContext(ctx, ev)
		}
	case domain.StateAskingItem:
		return e.onItem(ctx, ev, scratch)
	case domain.StateAskingImageChoice:
		return e.onImageChoice(ctx, ev, scratch)
	case domain.StateHandlingImageUpload:
		return e.onImageUpload(ctx, ev, scratch)
	case domain.StateAskingPrice:
		return e.onTextAnswer(ctx, ev, scratch, domain.KeyPrice, domain.StateAskingPrice, domain.StateAskingMOQ, moqPrompt)
	case domain.StateAskingMOQ:
		return e.onTextAnswer(ctx, ev, scratch, domain.KeyMOQ, domain.StateAskingMOQ, domain.StateAskingClosingTime, closingTimePrompt)
	case domain.StateAskingClosingTime:
		return e.onTextAnswer(ctx, ev, scratch, domain.KeyClosingTime, domain.StateAskingClosingTime, domain.StateAskingPickup, pickupPrompt)
	case domain.StateAskingPickup:
		return e.onPickup(ctx, ev, scratch)
	case domain.StateAskingPaymentChoice:
		return e.onPaymentChoice(ctx, ev, scratch)
	case domain.StateAskingPaymentDetail:
		return e.onPaymentDetails(ctx, ev, scratch)
	case domain.StateAskingConfirmation:
		return e.onConfirmation(ctx, ev, scratch)
	default:
		// Unknown stored value: corrupt state, recover via fallback.
		e.logFailure(ErrorLostContext, "unknown_state", nil, ev)
		return e.lostContext(ctx, ev)
	}
}

// participantKey is the store identifier for a participant.
func participantKey(participantID int64) string {
	return strconv.FormatInt(participantID, 10)
}

func (e *Engine) logFailure(code ErrorCode, reason string, err error, ev domain.Event) {
	e.log.Warn("recovered failure",
		"error", newError(code, reason, err).Error(),
		"participant", ev.ParticipantID,
		"scope", ev.ScopeID)
}

func isForbidden(err error) bool {
	var statusErr httpStatusCoder
	return errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == 403
}

var newOfferID = func() string {
	return uuid.NewString()
}
