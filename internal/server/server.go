// Package server exposes the turn runner over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

// TurnRequest is the body of POST /v1/conversations/{id}/turns.
type TurnRequest struct {
	Utterance string `json:"utterance" validate:"required,max=4000"`
}

// TurnResponse is what the front-end renders for one turn.
type TurnResponse struct {
	ConversationID string                `json:"conversation_id"`
	TurnID         string                `json:"turn_id"`
	Answer         string                `json:"answer"`
	Streamed       bool                  `json:"streamed"`
	Sidebar        model.Sidebar         `json:"sidebar"`
	Evidence       *model.EvidenceBundle `json:"evidence,omitempty"`
	Suggestions    []string              `json:"suggestions,omitempty"`
	Attachment     *model.Attachment     `json:"attachment,omitempty"`
	Route          []string              `json:"route,omitempty"`
	Intent         model.IntentResult    `json:"intent"`
	CostUSD        float64               `json:"cost_usd"`
	Failed         bool                  `json:"failed,omitempty"`
}

// streamLine is one NDJSON line of a streamed turn.
type streamLine struct {
	Chunk  string        `json:"chunk,omitempty"`
	Result *TurnResponse `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

type Server struct {
	runner   graph.Runner
	sessions model.SessionRepository
	lockTTL  time.Duration
	validate *validator.Validate
	router   *mux.Router
}

// New wires the routes. lockTTL bounds how long a crashed turn keeps the session busy.
func New(runner graph.Runner, sessions model.SessionRepository, lockTTL time.Duration) *Server {
	s := &Server{
		runner:   runner,
		sessions: sessions,
		lockTTL:  lockTTL,
		validate: validator.New(),
		router:   mux.NewRouter(),
	}
	s.router.Use(recoverer)
	s.router.Use(requestLogger)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations/{id}/turns", s.postTurn).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}", s.deleteConversation).Methods(http.MethodDelete)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.validate.Var(id, "required,max=128,printascii"); err != nil {
		writeError(w, errx.New(err, http.StatusBadRequest, "invalid conversation id"))
		return
	}
	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, errx.New(err, http.StatusBadRequest, "invalid request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, errx.New(err, http.StatusBadRequest, validationMessage(err)))
		return
	}

	ctx := r.Context()
	unlock, err := s.sessions.Lock(ctx, id, s.lockTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	defer unlock()

	session, err := s.sessions.Load(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	turnID := uuid.NewString()
	opts := []graph.TurnOption{graph.WithTurnID(turnID)}
	stream := r.URL.Query().Get("stream") == "1"
	var lines *json.Encoder
	var flusher http.Flusher
	if stream {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		lines = json.NewEncoder(w)
		flusher, _ = w.(http.Flusher)
		opts = append(opts, graph.WithStreamSink(func(chunk string) {
			_ = lines.Encode(streamLine{Chunk: chunk})
			if flusher != nil {
				flusher.Flush()
			}
		}))
	}

	res, err := s.runner.HandleTurn(ctx, req.Utterance, session, opts...)
	if err != nil {
		logx.Error().Err(err).Str("session_id", id).Str("turn_id", turnID).Msg("Turn failed")
		if stream {
			_ = lines.Encode(streamLine{Error: publicMessage(err)})
			return
		}
		writeError(w, err)
		return
	}
	if err := s.sessions.Save(ctx, res.Session); err != nil {
		logx.Error().Err(err).Str("session_id", id).Msg("Error saving session")
		if stream {
			_ = lines.Encode(streamLine{Error: publicMessage(err)})
			return
		}
		writeError(w, err)
		return
	}

	body := toResponse(id, turnID, res)
	if stream {
		_ = lines.Encode(streamLine{Result: body})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toResponse(conversationID, turnID string, res *model.TurnResult) *TurnResponse {
	return &TurnResponse{
		ConversationID: conversationID,
		TurnID:         turnID,
		Answer:         res.Answer,
		Streamed:       res.Streamed,
		Sidebar:        res.Sidebar,
		Evidence:       res.Evidence,
		Suggestions:    res.Suggestions,
		Attachment:     res.Attachment,
		Route:          res.Route,
		Intent:         res.Intent,
		CostUSD:        res.CostUSD,
		Failed:         res.Failed,
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "invalid field " + verrs[0].Field() + ": " + verrs[0].Tag()
	}
	return "invalid request"
}

func publicMessage(err error) string {
	var app *errx.AppError
	if errors.As(err, &app) && app.Message != "" {
		return app.Message
	}
	return errx.SystemErrorMessage
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errx.StatusOf(err), errorBody{Error: publicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
