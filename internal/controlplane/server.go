package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/cfagents/internal/models"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Version is reported by /health. Set at link time.
var Version = "dev"

const bodyLimit = 1 << 20

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server provides the HTTP API for cfagents.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		addr:    addr,
		logger:  logger,
	}
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)

		// Agents
		r.Get("/agents", s.listAgents)
		r.Get("/agents/{name}/skills", s.getAgentSkills)
		r.Post("/agents/{name}/skills", s.attachSkill)
		r.Delete("/agents/{name}/skills/{skill}", s.detachSkill)
		r.Post("/agents/{name}/reset", s.resetAgent)
		r.Get("/agents/{name}/recommendations", s.getRecommendations)
		r.Get("/agents/{name}/inbox", s.getInbox)

		// Skills
		r.Get("/skills", s.listSkills)
		r.Get("/skills/docs", s.getSkillDocs)
		r.Post("/skills/validate", s.validateSkills)
		r.Get("/skills/{name}", s.getSkill)

		// Tasks and workflows
		r.Get("/tasks", s.listQueued)
		r.Post("/tasks", s.submitTask)
		r.Post("/tasks/run", s.runQueued)
		r.Post("/workflows", s.runWorkflow)
		r.Get("/results", s.listResults)
		r.Get("/decisions", s.listDecisions)

		// Messages
		r.Get("/messages", s.listMessages)
		r.Post("/messages", s.sendMessage)
		r.Post("/messages/broadcast", s.broadcast)
		r.Post("/messages/subscribe", s.subscribe)
		r.Get("/messages/pending", s.listPending)

		r.Post("/coordination/{pattern}", s.coordinate)
	})
	return r
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}

	s.logger.Info("starting cfagents daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		health.OK = false
		health.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

// --- Agent Handlers ---

func (s *Server) listAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Agents())
}

func (s *Server) getAgentSkills(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.AgentSkills(chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(names))
}

type attachRequest struct {
	Skill string `json:"skill"`
}

func (s *Server) attachSkill(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[attachRequest](w, r)
	if !ok || !requireField(w, req.Skill, "skill") {
		return
	}
	agent := chi.URLParam(r, "name")
	if err := s.service.AttachSkill(agent, req.Skill); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"agent": agent, "skill": req.Skill, "status": "attached"})
}

func (s *Server) detachSkill(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DetachSkill(chi.URLParam(r, "name"), chi.URLParam(r, "skill")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetAgent(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "name")
	if err := s.service.ResetAgent(agent); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent": agent, "status": string(models.AgentStatusIdle)})
}

func (s *Server) getRecommendations(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "max", 3)
	if !ok {
		return
	}
	recs, err := s.service.Recommendations(chi.URLParam(r, "name"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) getInbox(w http.ResponseWriter, r *http.Request) {
	take := r.URL.Query().Get("take") == "true"
	msgs, err := s.service.Inbox(chi.URLParam(r, "name"), take)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

// --- Skill Handlers ---

func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, nonNil(s.service.Skills(q.Get("category"), q.Get("agent"), q.Get("q"))))
}

func (s *Server) getSkill(w http.ResponseWriter, r *http.Request) {
	sk, err := s.service.Skill(chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sk)
}

func (s *Server) getSkillDocs(w http.ResponseWriter, _ *http.Request) {
	doc, err := s.service.SkillDocs()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

type validateRequest struct {
	Skills []string `json:"skills"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (s *Server) validateSkills(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[validateRequest](w, r)
	if !ok {
		return
	}
	resp := validateResponse{Valid: true}
	if err := s.service.ValidateSkills(req.Skills); err != nil {
		resp = validateResponse{Error: err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Task Handlers ---

type taskRequest struct {
	ID         string         `json:"id"`
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	Priority   *int           `json:"priority"`
	DependsOn  []string       `json:"depends_on"`
}

func (t taskRequest) toTask() *models.AgentTask {
	task := models.NewTask(t.ID, t.Agent, t.Action, t.Parameters, t.DependsOn...)
	if t.Priority != nil {
		task.Priority = *t.Priority
	}
	return task
}

func (s *Server) listQueued(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.service.QueuedTasks()))
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[taskRequest](w, r)
	if !ok {
		return
	}
	task := req.toTask()
	if err := s.service.SubmitTask(task); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) runQueued(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.service.RunQueued(r.Context())))
}

type workflowRequest struct {
	Mode  string        `json:"mode"`
	Tasks []taskRequest `json:"tasks"`
}

func (s *Server) runWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[workflowRequest](w, r)
	if !ok {
		return
	}
	tasks := make([]*models.AgentTask, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		tasks = append(tasks, t.toTask())
	}
	results, err := s.service.RunWorkflow(r.Context(), req.Mode, tasks)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(results))
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	results, err := s.service.Results(r.URL.Query().Get("task_id"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(results))
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	entries, err := s.service.Decisions(limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// --- Message Handlers ---

type messageRequest struct {
	Sender           string          `json:"sender"`
	Recipient        string          `json:"recipient"`
	Type             string          `json:"message_type"`
	Priority         models.Priority `json:"priority"`
	Payload          map[string]any  `json:"payload"`
	RequiresResponse bool            `json:"requires_response"`
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	q := r.URL.Query()
	msgs, err := s.service.Messages(q.Get("agent"), q.Get("type"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[messageRequest](w, r)
	if !ok {
		return
	}
	id, err := s.service.SendMessage(req.Sender, req.Recipient, req.Type, req.Payload, req.Priority, req.RequiresResponse)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message_id": id})
}

func (s *Server) broadcast(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[messageRequest](w, r)
	if !ok {
		return
	}
	n, err := s.service.Broadcast(req.Sender, req.Type, req.Payload, req.Priority)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recipients": n})
}

type subscribeRequest struct {
	Agent string   `json:"agent"`
	Types []string `json:"types"`
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[subscribeRequest](w, r)
	if !ok {
		return
	}
	if err := s.service.Subscribe(req.Agent, req.Types); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.service.Pending()))
}

func (s *Server) coordinate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[CoordinationRequest](w, r)
	if !ok {
		return
	}
	res, err := s.service.Coordinate(chi.URLParam(r, "pattern"), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- Helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid json")
		}
		return v, false
	}
	return v, true
}

func requireField(w http.ResponseWriter, value, field string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, field+" is required")
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
