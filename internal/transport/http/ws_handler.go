package http

import (
	"encoding/json"
	"net/http"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSHandler streams an owner's progress feed and accepts quiz submissions on the same socket.
type WSHandler struct {
	engine   *app.Engine
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		engine: engine,
		log:    log,
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

type submitPayload struct {
	QuizID    string            `json:"quizId"`
	Answers   map[string]string `json:"answers"`
	ElapsedMs map[string]int64  `json:"elapsedMs"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades HTTP requests to websockets. The owner comes from the X-User-ID
// header or, for browsers, the userId query parameter.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(UserHeader)
	if owner == "" {
		owner = r.URL.Query().Get("userId")
	}
	if owner == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel, err := h.engine.Subscribe(r.Context(), owner)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorFor(err)})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.WithError(err).WithField("owner", owner).Debug("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: ev.Type, Payload: ev.Payload}:
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
		switch inbound.Type {
		case "submit":
			var payload submitPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorFor(domain.InvalidRequest("invalid submit payload"))}
				continue
			}
			elapsed, err := elapsedDurations(payload.ElapsedMs)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorFor(err)}
				continue
			}
			sub := domain.AnswerSubmission{QuizID: payload.QuizID, Answers: payload.Answers, Elapsed: elapsed}
			record, err := h.engine.SubmitQuiz(r.Context(), owner, sub)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorFor(err)}
				continue
			}
			send <- outboundMessage[any]{Type: "submitResult", Payload: record}
		case "generateQuests":
			quests, err := h.engine.GenerateQuests(r.Context(), owner)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorFor(err)}
				continue
			}
			send <- outboundMessage[any]{Type: "questsResult", Payload: quests}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorFor(domain.InvalidRequest("unsupported message type"))}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func errorFor(err error) errorPayload {
	return errorPayload{Error: string(domain.KindOf(err)), Message: err.Error()}
}
