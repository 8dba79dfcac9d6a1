// Package server exposes the webhook endpoints and the read API over the
// outreach pipeline.
package server

import (
	"encoding/json"
	"encoding/xml"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quinnhq/dispatch/internal/conversation"
	"github.com/quinnhq/dispatch/internal/intake"
	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/store"
	"github.com/quinnhq/dispatch/pkg/twilio"
)

const defaultListLimit = 50

// Config tunes the HTTP server.
type Config struct {
	AllowedOrigins []string
	MaxAttempts    int
}

// Server routes webhook and API traffic to the engines.
type Server struct {
	store        store.Store
	intake       *intake.Engine
	conversation *conversation.Engine
	cfg          Config
}

// New creates the server.
func New(st store.Store, in *intake.Engine, conv *conversation.Engine, cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = model.DefaultMaxAttempts
	}
	return &Server{store: st, intake: in, conversation: conv, cfg: cfg}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/webhook/call", s.handleCallWebhook)
	r.Post("/webhook/sms", s.handleSMSWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/requests", s.handleListRequests)
		r.Get("/requests/{id}", s.handleGetRequest)
		r.Get("/requests/{id}/businesses", s.handleListBusinesses)
		r.Post("/requests/{id}/retry-discovery", s.handleRetryDiscovery)
		r.Post("/requests/{id}/retry-extraction", s.handleRetryExtraction)
		r.Get("/track/{token}", s.handleTrack)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCallWebhook receives the end-of-call report from the voice platform.
func (s *Server) handleCallWebhook(w http.ResponseWriter, r *http.Request) {
	var report intake.CallReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid call report body")
		return
	}

	req, err := s.intake.ProcessCall(r.Context(), &report)
	if err != nil {
		zap.L().Error("server: call webhook", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, "could not process call report")
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// twimlResponse is the XML reply Twilio turns into an outbound SMS.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// handleSMSWebhook receives inbound SMS as a Twilio form post and answers
// with TwiML.
func (s *Server) handleSMSWebhook(w http.ResponseWriter, r *http.Request) {
	in, err := twilio.ParseInbound(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sms webhook body")
		return
	}

	reply, err := s.conversation.HandleInbound(r.Context(), in)
	if err != nil {
		zap.L().Error("server: sms webhook",
			zap.String("from", in.From),
			zap.Error(err),
		)
		// An empty TwiML response sends nothing; the message stays logged.
		reply = ""
	}
	writeTwiML(w, reply)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)

	requests, err := s.store.ListServiceRequests(r.Context(), limit, offset)
	if err != nil {
		zap.L().Error("server: list requests", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.store.GetServiceRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "get request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListBusinesses(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetServiceRequest(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "get request")
		return
	}

	businesses, err := s.store.ListBusinesses(r.Context(), id)
	if err != nil {
		zap.L().Error("server: list businesses", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, businesses)
}

// handleRetryDiscovery queues a fresh discovery run that clears prior
// candidates first.
func (s *Server) handleRetryDiscovery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetServiceRequest(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "get request")
		return
	}

	err := s.store.EnqueueJob(r.Context(), &model.Job{
		Type:             model.JobBusinessDiscovery,
		ServiceRequestID: id,
		Payload:          map[string]any{"mode": "retry"},
		MaxAttempts:      s.cfg.MaxAttempts,
		ScheduledFor:     time.Now().UTC(),
	})
	if err != nil {
		zap.L().Error("server: retry discovery", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleRetryExtraction resets failed extractions back to pending and queues
// another extraction pass.
func (s *Server) handleRetryExtraction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetServiceRequest(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "get request")
		return
	}

	businesses, err := s.store.ListBusinesses(r.Context(), id)
	if err != nil {
		zap.L().Error("server: retry extraction", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	for _, b := range businesses {
		if b.ExtractionStatus != model.StageFailed {
			continue
		}
		if err := s.store.SetExtractionStatus(r.Context(), b.ID, model.StagePending); err != nil {
			zap.L().Error("server: reset extraction status",
				zap.String("business_id", b.ID),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "reset failed")
			return
		}
	}

	err = s.store.EnqueueJob(r.Context(), &model.Job{
		Type:             model.JobContactExtraction,
		ServiceRequestID: id,
		MaxAttempts:      s.cfg.MaxAttempts,
		ScheduledFor:     time.Now().UTC(),
	})
	if err != nil {
		zap.L().Error("server: retry extraction", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleTrack is the public tracking endpoint linked from the confirmation
// SMS. It exposes progress only, never contact details.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	req, err := s.store.GetServiceRequestByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeStoreError(w, err, "get by token")
		return
	}

	count, err := s.store.CountBusinesses(r.Context(), req.ID)
	if err != nil {
		zap.L().Error("server: count businesses", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, model.TrackingInfo{
		ServiceType:      req.ServiceType,
		Status:           req.Status,
		DiscoveryStatus:  req.DiscoveryStatus,
		ContractorsFound: count,
		CreatedAt:        req.CreatedAt,
	})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, op string) {
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("server: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "lookup failed")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeTwiML(w http.ResponseWriter, message string) {
	body, err := xml.Marshal(twimlResponse{Message: message})
	if err != nil {
		zap.L().Error("server: encode twiml", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(body)
}
