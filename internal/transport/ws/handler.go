package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"classquiz-service/internal/app"
	"classquiz-service/internal/domain"
	"github.com/gorilla/websocket"
)

// Inbound event names on the wire.
const (
	eventStartSession    = "start-session"
	eventJoinSession     = "join-session"
	eventSubmitAnswer    = "submit-answer"
	eventPauseSession    = "pause-session"
	eventResumeSession   = "resume-session"
	eventAdvanceQuestion = "advance-question"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	SessionCode  string `json:"sessionCode"`
	RequesterID  string `json:"requesterId"`
	AutoProgress bool   `json:"autoProgress"`
	DashboardID  string `json:"dashboardId"`
}

type joinPayload struct {
	SessionCode   string `json:"sessionCode"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Avatar        string `json:"avatar"`
	Deferred      bool   `json:"deferred"`
}

type answerPayload struct {
	SessionCode     string             `json:"sessionCode"`
	ParticipantID   string             `json:"participantId"`
	QuestionID      string             `json:"questionId"`
	Value           domain.AnswerValue `json:"value"`
	ClientTimestamp int64              `json:"clientTimestamp"`
}

type controlPayload struct {
	SessionCode string `json:"sessionCode"`
	RequesterID string `json:"requesterId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

var connSeq atomic.Uint64

// Handler upgrades HTTP requests to websockets and wires inbound events into
// the session engine. Outbound traffic flows through the Hub, which the
// engine uses as its emitter.
type Handler struct {
	service  *app.SessionService
	hub      *Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(service *app.SessionService, hub *Hub, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		service: service,
		hub:     hub,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	connID := fmt.Sprintf("conn-%d", connSeq.Add(1))
	c := &client{id: connID, conn: conn, send: make(chan outboundMessage, 16)}
	h.hub.register(c)

	var joinedKey *app.SessionKey
	defer func() {
		if joinedKey != nil {
			h.service.Disconnect(*joinedKey, connID)
		}
		h.hub.unregister(connID)
		_ = conn.Close()
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}

		switch inbound.Type {
		case eventStartSession:
			var p startPayload
			if !h.decode(connID, inbound.Payload, &p) {
				continue
			}
			// The owner observes the room they control; membership precedes the
			// start so the first question broadcast reaches them too.
			h.hub.joinRoom(app.LiveKey(p.SessionCode).Room(), connID)
			err := h.service.StartSession(r.Context(), p.SessionCode, p.RequesterID, app.StartOptions{
				AutoProgress: p.AutoProgress,
				DashboardID:  p.DashboardID,
			})
			if err != nil {
				h.sendError(connID, err)
				continue
			}

		case eventJoinSession:
			var p joinPayload
			if !h.decode(connID, inbound.Payload, &p) {
				continue
			}
			key := app.LiveKey(p.SessionCode)
			if p.Deferred {
				key = app.DeferredKey(p.SessionCode, p.ParticipantID)
			}
			// Room membership first so the initial question broadcast of a
			// deferred session reaches this connection.
			h.hub.joinRoom(key.Room(), connID)
			if err := h.service.Join(r.Context(), p.SessionCode, p.ParticipantID, p.DisplayName, p.Avatar, connID, p.Deferred); err != nil {
				h.sendError(connID, err)
				continue
			}
			joinedKey = &key

		case eventSubmitAnswer:
			var p answerPayload
			if !h.decode(connID, inbound.Payload, &p) {
				continue
			}
			// The ack (accept or reject) is emitted by the intake gate.
			h.service.SubmitAnswer(r.Context(), app.Submission{
				SessionCode:     p.SessionCode,
				ParticipantID:   p.ParticipantID,
				ConnID:          connID,
				QuestionID:      p.QuestionID,
				Value:           p.Value,
				ClientTimestamp: p.ClientTimestamp,
			})

		case eventPauseSession:
			var p controlPayload
			if !h.decode(connID, inbound.Payload, &p) {
				continue
			}
			if err := h.service.Pause(r.Context(), p.SessionCode, p.RequesterID); err != nil {
				h.sendError(connID, err)
			}

		case eventResumeSession:
			var p controlPayload
			if !h.decode(connID, inbound.Payload, &p) {
				continue
			}
			if err := h.service.Resume(r.Context(), p.SessionCode, p.RequesterID); err != nil {
				h.sendError(connID, err)
			}

		case eventAdvanceQuestion:
			var p controlPayload
			if !h.decode(connID, inbound.Payload, &p) {
				continue
			}
			if err := h.service.Advance(r.Context(), p.SessionCode, p.RequesterID); err != nil {
				h.sendError(connID, err)
			}

		default:
			h.hub.SendToConnection(connID, "error", errorPayload{Message: "unsupported message type"})
		}
	}
}

func (h *Handler) decode(connID string, raw json.RawMessage, into any) bool {
	if err := json.Unmarshal(raw, into); err != nil {
		h.hub.SendToConnection(connID, "error", errorPayload{Message: "invalid payload"})
		return false
	}
	return true
}

// sendError maps internal errors to user-facing messages without leaking
// internals.
func (h *Handler) sendError(connID string, err error) {
	msg := "request failed"
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuestionsNotFound),
		errors.Is(err, domain.ErrNotSessionOwner),
		errors.Is(err, domain.ErrParticipantRequired),
		errors.Is(err, domain.ErrSessionNotPaused),
		errors.Is(err, domain.ErrSessionNotRunning):
		msg = err.Error()
	default:
		h.log.Error("request failed", zap.Error(err))
	}
	h.hub.SendToConnection(connID, "error", errorPayload{Message: msg})
}
