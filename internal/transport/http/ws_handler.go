package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"assessment-session-service/internal/app"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type selectPayload struct {
	OptionIndex int `json:"optionIndex"`
}

type jumpPayload struct {
	Index int `json:"index"`
}

type violationPayload struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type ratePayload struct {
	Score int `json:"score"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and binds the connection to the candidate's
// session: snapshots stream out, navigation/violation events come in, and a
// disconnect while the session is still active is the page-teardown signal.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	candidateID, err1 := strconv.Atoi(r.URL.Query().Get("candidateId"))
	offerID, err2 := strconv.Atoi(r.URL.Query().Get("offerId"))
	if err1 != nil || err2 != nil {
		http.Error(w, "missing or invalid candidateId or offerId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	session, err := h.service.Begin(r.Context(), candidateID, offerID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer h.service.Drop(session.ID())
	// Dropping the socket mid-attempt dispatches the abandonment beacon; the
	// record stays in_progress so a reload picks the attempt back up. No-op
	// if the session reached a terminal state first.
	defer session.Abandon()

	updates, cancel := session.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snapshot, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "snapshot", Payload: snapshot}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(r, session, inbound); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, session *app.Session, inbound inboundMessage) error {
	switch inbound.Type {
	case "select":
		var payload selectPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		return session.SelectOption(payload.OptionIndex)
	case "next":
		return session.Next()
	case "previous":
		return session.Previous()
	case "jump":
		var payload jumpPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		return session.JumpTo(payload.Index)
	case "violation":
		var payload violationPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		session.ReportViolation(payload.Type, payload.Count)
		return nil
	case "rate":
		var payload ratePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		return session.RateOffer(r.Context(), payload.Score)
	default:
		return errUnsupportedType
	}
}

var (
	errInvalidPayload  = &wsError{"invalid payload"}
	errUnsupportedType = &wsError{"unsupported message type"}
)

type wsError struct{ msg string }

func (e *wsError) Error() string { return e.msg }
