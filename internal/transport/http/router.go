package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quiz-schedule-service/internal/app"
	"quiz-schedule-service/internal/domain"
)

// QuizSource reloads a quiz before it is (re)scheduled.
type QuizSource interface {
	LoadQuiz(ctx context.Context, quizID int64) (*domain.QuizDefinition, error)
}

// API exposes the engine's upward operations over HTTP.
type API struct {
	engine  *app.Engine
	quizzes QuizSource
	log     *zap.Logger
}

// NewRouter mounts health, metrics, websocket and engine routes.
func NewRouter(engine *app.Engine, quizzes QuizSource, ws *WSHandler, gatherer prometheus.Gatherer, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	api := &API{engine: engine, quizzes: quizzes, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if ws != nil {
		r.Get("/ws", ws.ServeWS)
	}

	r.Route("/api/quizzes/{quizID}", func(r chi.Router) {
		r.Get("/submissions/{username}", api.getSubmission)
		r.Get("/participations/{username}", api.getParticipation)
		r.Put("/schedule", api.scheduleStart)
		r.Delete("/schedule", api.cancelStart)
		r.Delete("/staging", api.clearStaging)
	})
	return r
}

func (a *API) getSubmission(w http.ResponseWriter, r *http.Request) {
	quizID, ok := quizIDParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.engine.GetSubmission(quizID, chi.URLParam(r, "username")))
}

func (a *API) getParticipation(w http.ResponseWriter, r *http.Request) {
	quizID, ok := quizIDParam(w, r)
	if !ok {
		return
	}
	participation := a.engine.GetParticipation(quizID, chi.URLParam(r, "username"))
	if participation == nil {
		writeError(w, http.StatusNotFound, "no participation awaiting delivery")
		return
	}
	writeJSON(w, http.StatusOK, participation)
}

type scheduleResponse struct {
	QuizID    int64     `json:"quizId"`
	Scheduled bool      `json:"scheduled"`
	ReleaseAt time.Time `json:"releaseAt"`
}

func (a *API) scheduleStart(w http.ResponseWriter, r *http.Request) {
	quizID, ok := quizIDParam(w, r)
	if !ok {
		return
	}
	quiz, err := a.quizzes.LoadQuiz(r.Context(), quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	if err != nil {
		a.log.Error("load quiz for scheduling", zap.Int64("quizId", quizID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load quiz")
		return
	}
	scheduled := a.engine.ScheduleQuizStart(quiz)
	writeJSON(w, http.StatusOK, scheduleResponse{QuizID: quizID, Scheduled: scheduled, ReleaseAt: quiz.ReleaseDate})
}

func (a *API) cancelStart(w http.ResponseWriter, r *http.Request) {
	quizID, ok := quizIDParam(w, r)
	if !ok {
		return
	}
	a.engine.CancelScheduledQuizStart(quizID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) clearStaging(w http.ResponseWriter, r *http.Request) {
	quizID, ok := quizIDParam(w, r)
	if !ok {
		return
	}
	a.engine.ClearQuizData(quizID)
	w.WriteHeader(http.StatusNoContent)
}

func quizIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	quizID, err := strconv.ParseInt(chi.URLParam(r, "quizID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quiz id")
		return 0, false
	}
	return quizID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorPayload{Message: message})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())),
			)
		})
	}
}
