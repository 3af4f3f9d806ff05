// Package handler adapts one API Gateway webhook invocation into one
// engine event. The messaging platform retries non-2xx responses, so
// every processed update is acknowledged with 200; only a malformed
// body or an uninitialized core yields a server error.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"groupbuy-bot/internal/domain"
)

const correlationHeader = "X-Correlation-Id"

// EventHandler is the engine surface the transport invokes.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.Event)
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

type Handler struct {
	engine EventHandler
}

// NewHandler creates a Handler around the given engine.
func NewHandler(engine EventHandler) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("handler: engine must not be nil")
	}
	return &Handler{engine: engine}, nil
}

// Minimal Bot API update wire shapes. Only the fields the wizard reads
// are decoded; everything else in the update is ignored.
type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type user struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type photoSize struct {
	FileID string `json:"file_id"`
}

type message struct {
	MessageID int64       `json:"message_id"`
	From      *user       `json:"from"`
	Chat      chat        `json:"chat"`
	Text      string      `json:"text"`
	Photo     []photoSize `json:"photo"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    user     `json:"from"`
	Data    string   `json:"data"`
	Message *message `json:"message"`
}

// Handle processes one webhook request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (Response, error) {
	corrID := correlationID(req.Headers)

	if h == nil || h.engine == nil {
		return respond(http.StatusInternalServerError, "bot not initialized", corrID), nil
	}

	var upd update
	if err := json.Unmarshal([]byte(req.Body), &upd); err != nil {
		return respond(http.StatusInternalServerError, "malformed update", corrID), nil
	}

	ev, ok := toEvent(upd)
	if !ok {
		// Nothing actionable in the update; acknowledge so the
		// platform does not redeliver it.
		return respond(http.StatusOK, "ignored", corrID), nil
	}

	h.engine.HandleEvent(ctx, ev)
	return respond(http.StatusOK, "ok", corrID), nil
}

// toEvent maps a decoded update to the engine's event shape.
func toEvent(upd update) (domain.Event, bool) {
	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		ev := domain.Event{
			UpdateID:      upd.UpdateID,
			ParticipantID: cq.From.ID,
			DisplayName:   displayName(cq.From),
			CallbackID:    cq.ID,
			CallbackData:  cq.Data,
		}
		if cq.Message != nil {
			ev.ScopeID = cq.Message.Chat.ID
			ev.ScopeType = domain.ScopeType(cq.Message.Chat.Type)
			ev.ScopeTitle = cq.Message.Chat.Title
			ev.MessageID = cq.Message.MessageID
		}
		return ev, ev.ParticipantID != 0
	case upd.Message != nil && upd.Message.From != nil:
		m := upd.Message
		ev := domain.Event{
			UpdateID:      upd.UpdateID,
			ParticipantID: m.From.ID,
			DisplayName:   displayName(*m.From),
			ScopeID:       m.Chat.ID,
			ScopeType:     domain.ScopeType(m.Chat.Type),
			ScopeTitle:    m.Chat.Title,
			MessageID:     m.MessageID,
			Text:          m.Text,
		}
		if len(m.Photo) > 0 {
			// The last size is the largest rendition.
			ev.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
		}
		return ev, true
	default:
		return domain.Event{}, false
	}
}

func displayName(u user) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func respond(status int, body, corrID string) Response {
	return Response{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":    "text/plain",
			correlationHeader: corrID,
		},
		Body: body,
	}
}
