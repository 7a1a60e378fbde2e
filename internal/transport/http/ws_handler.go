package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quiz-schedule-service/internal/app"
	"quiz-schedule-service/internal/domain"
	"quiz-schedule-service/internal/infra/memory"
)

// WSHandler serves participant websocket connections: inbound submissions are staged through
// the engine, outbound participations and quiz starts come from the delivery hub.
type WSHandler struct {
	engine   *app.Engine
	hub      *memory.Hub
	log      *zap.Logger
	limit    rate.Limit
	burst    int
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine, hub *memory.Hub, messagesPerSecond float64, burst int, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if burst <= 0 {
		burst = 1
	}
	return &WSHandler{
		engine: engine,
		hub:    hub,
		log:    log,
		limit:  rate.Limit(messagesPerSecond),
		burst:  burst,
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

type submissionPayload struct {
	Answers   []domain.SubmittedAnswer `json:"answers"`
	Submitted bool                     `json:"submitted"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the engine.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID, err := strconv.ParseInt(r.URL.Query().Get("quizId"), 10, 64)
	username := r.URL.Query().Get("username")
	if err != nil || username == "" {
		http.Error(w, "missing quizId or username", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	deliveries, cancel := h.hub.Subscribe(username)
	defer cancel()

	limiter := rate.NewLimiter(h.limit, h.burst)
	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	deliveriesDone := make(chan struct{})

	// single writer goroutine; gorilla connections allow one concurrent writer
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.String("username", username), zap.Error(err))
				return
			}
		}
	}()

	participationTopic := domain.ParticipationTopic(quizID)
	startTopic := domain.StartTopic(quizID)
	go func() {
		defer close(deliveriesDone)
		for {
			select {
			case envelope, ok := <-deliveries:
				if !ok {
					return
				}
				var msgType string
				switch envelope.Topic {
				case participationTopic:
					msgType = "participation"
				case startTopic:
					msgType = "quizStart"
				default:
					continue
				}
				select {
				case send <- outboundMessage[any]{Type: msgType, Payload: envelope.Payload}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	joined := outboundMessage[any]{Type: "joined", Payload: h.engine.GetSubmission(quizID, username)}
	if enqueue(send, writerDone, joined) {
		for {
			var inbound inboundMessage
			if err := conn.ReadJSON(&inbound); err != nil {
				break
			}
			// a dead writer drains nothing, so stop reading once it is gone
			if !enqueue(send, writerDone, h.reply(r.Context(), quizID, username, limiter, inbound)) {
				break
			}
		}
	}

	close(closeSignals)
	<-deliveriesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) reply(ctx context.Context, quizID int64, username string, limiter *rate.Limiter, inbound inboundMessage) outboundMessage[any] {
	if inbound.Type != "submission" {
		return errorMessage("unsupported message type")
	}
	if !limiter.Allow() {
		return errorMessage("too many submissions, slow down")
	}
	var payload submissionPayload
	if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
		return errorMessage("invalid submission payload")
	}
	saved, err := h.engine.SubmitAnswers(ctx, quizID, username, payload.Answers, payload.Submitted)
	if err != nil {
		return errorMessage(submissionErrorText(err))
	}
	return outboundMessage[any]{Type: "submissionSaved", Payload: saved}
}

// enqueue hands msg to the writer and reports false once the writer has exited.
func enqueue(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func errorMessage(text string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: text}}
}

func submissionErrorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound):
		return "quiz not found"
	case errors.Is(err, domain.ErrSubmissionNotAllowed):
		return "quiz is not running"
	case errors.Is(err, domain.ErrSubmissionFinalized):
		return "submission already finalized"
	default:
		return "could not save submission"
	}
}
