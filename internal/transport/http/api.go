package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"github.com/sirupsen/logrus"
)

// UserHeader carries the authenticated owner id set by the gateway.
const UserHeader = "X-User-ID"

const (
	maxBodyBytes = 1 << 20
	maxElapsedMs = int64(24 * time.Hour / time.Millisecond)
)

// RequestObserver records served requests, typically into Prometheus.
type RequestObserver interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
}

// API serves the engine over JSON.
type API struct {
	engine   *app.Engine
	log      logrus.FieldLogger
	observer RequestObserver
}

func NewAPI(engine *app.Engine, log logrus.FieldLogger, observer RequestObserver) *API {
	return &API{engine: engine, log: log, observer: observer}
}

// Register mounts every route on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/quizzes", a.wrap(a.createQuiz))
	mux.HandleFunc("GET /v1/quizzes/{id}", a.wrap(a.getQuiz))
	mux.HandleFunc("POST /v1/quizzes/{id}/submit", a.wrap(a.submitQuiz))
	mux.HandleFunc("POST /v1/weakness", a.wrap(a.analyzeWeakness))
	mux.HandleFunc("POST /v1/quests/generate", a.wrap(a.generateQuests))
	mux.HandleFunc("GET /v1/quests", a.wrap(a.listQuests))
	mux.HandleFunc("GET /v1/quests/active", a.wrap(a.listActiveQuests))
	mux.HandleFunc("GET /v1/performance", a.wrap(a.performance))
	mux.HandleFunc("GET /v1/leaderboard", a.wrap(a.leaderboard))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

type createQuizRequest struct {
	Name         string   `json:"name"`
	TopicIDs     []string `json:"topicIds"`
	Difficulties []int    `json:"difficulties"`
	Count        int      `json:"count"`
}

type quizResponse struct {
	domain.QuizInstance
	Short bool `json:"short"`
}

type submitRequest struct {
	Answers   map[string]string `json:"answers"`
	ElapsedMs map[string]int64  `json:"elapsedMs"`
}

type weaknessRequest struct {
	Features *app.WeaknessFeatures `json:"features"`
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, owner string) (int, any, error)

// wrap resolves the owner, renders the result and records the request.
func (a *API) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status, body, err := a.serve(w, r, h)
		if err != nil {
			status = statusFor(err)
			body = errorPayload{Error: string(domain.KindOf(err)), Message: err.Error()}
			entry := a.log.WithError(err).WithFields(logrus.Fields{"route": r.Pattern, "owner": r.Header.Get(UserHeader)})
			if status >= http.StatusInternalServerError {
				entry.Error("request failed")
			} else {
				entry.Debug("request rejected")
			}
		}
		writeJSON(w, status, body)
		if a.observer != nil {
			a.observer.ObserveRequest(r.Pattern, status, time.Since(start))
		}
	}
}

func (a *API) serve(w http.ResponseWriter, r *http.Request, h handlerFunc) (int, any, error) {
	owner := r.Header.Get(UserHeader)
	if owner == "" {
		return 0, nil, domain.InvalidRequest("missing %s header", UserHeader)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return h(w, r, owner)
}

func (a *API) createQuiz(_ http.ResponseWriter, r *http.Request, owner string) (int, any, error) {
	var req createQuizRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	quiz, err := a.engine.GenerateQuiz(r.Context(), app.QuizRequest{
		Owner:        owner,
		Name:         req.Name,
		TopicIDs:     req.TopicIDs,
		Difficulties: req.Difficulties,
		Count:        req.Count,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, quizResponse{QuizInstance: quiz, Short: quiz.Short()}, nil
}

func (a *API) getQuiz(_ http.ResponseWriter, r *http.Request, owner string) (int, any, error) {
	quiz, err := a.engine.GetQuiz(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, quizResponse{QuizInstance: quiz, Short: quiz.Short()}, nil
}

func (a *API) submitQuiz(_ http.ResponseWriter, r *http.Request, owner string) (int, any, error) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	elapsed, err := elapsedDurations(req.ElapsedMs)
	if err != nil {
		return 0, nil, err
	}
	sub := domain.AnswerSubmission{QuizID: r.PathValue("id"), Answers: req.Answers, Elapsed: elapsed}
	record, err := a.engine.SubmitQuiz(r.Context(), owner, sub)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, record, nil
}

// elapsedDurations converts per-question milliseconds. Values must be within 0..24h.
func elapsedDurations(ms map[string]int64) (map[string]time.Duration, error) {
	if len(ms) == 0 {
		return nil, nil
	}
	out := make(map[string]time.Duration, len(ms))
	for qid, v := range ms {
		if v < 0 || v > maxElapsedMs {
			return nil, domain.InvalidRequest("elapsed time for %q must be between 0 and %d ms", qid, maxElapsedMs)
		}
		out[qid] = time.Duration(v) * time.Millisecond
	}
	return out, nil
}

func (a *API) analyzeWeakness(_ http.ResponseWriter, r *http.Request, owner string) (int, any, error) {
	var req weaknessRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	assessments, err := a.engine.AnalyzeWeakness(r.Context(), owner, req.Features)
	if err != nil {
		return 0, nil, err
	}
	if assessments == nil {
		assessments = []domain.WeaknessAssessment{}
	}
	return http.StatusOK, assessments, nil
}

func (a *API) generateQuests(_ http.ResponseWriter, r *http.Request, owner string) (int, any, error) {
	quests, err := a.engine.GenerateQuests(r.Context(), owner)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, quests, nil
}

func (a *API) listQuests(_ http.ResponseWriter, r *http.Request, owner string) (int, any, error) {
	quests, err := a.engine.ListQuests(r.Context(), owner, domain.QuestStatus(r.URL.Query().Get("status")))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, quests, nil
}

func (a *API) listActiveQuests(_ http.ResponseWriter, r *http.Request, owner string) (int, any, error) {
	quests, err := a.engine.ListActiveQuests(r.Context(), owner)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, quests, nil
}

func (a *API) performance(_ http.ResponseWriter, r *http.Request, owner string) (int, any, error) {
	report, err := a.engine.Performance(r.Context(), owner)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, report, nil
}

func (a *API) leaderboard(_ http.ResponseWriter, r *http.Request, _ string) (int, any, error) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, nil, domain.InvalidRequest("limit must be a non-negative integer")
		}
		limit = n
	}
	board, err := a.engine.Leaderboard(r.Context(), limit)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, board, nil
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.InvalidRequest("malformed body: %v", err)
	}
	return nil
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
