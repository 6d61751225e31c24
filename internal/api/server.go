// Package api exposes the voice command core over HTTP.
//
// Routes are registered on an [http.ServeMux] with method patterns and
// wrapped in [observe.Middleware]. Live state is streamed to clients over a
// WebSocket at /v1/events.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voicecmd/internal/health"
	"github.com/MrWong99/voicecmd/internal/network"
	"github.com/MrWong99/voicecmd/internal/observe"
	"github.com/MrWong99/voicecmd/internal/orchestrator"
	"github.com/MrWong99/voicecmd/internal/queue"
	"github.com/MrWong99/voicecmd/internal/recognition"
	"github.com/MrWong99/voicecmd/internal/speaker"
	"github.com/MrWong99/voicecmd/pkg/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// Server serves the control API. Create it with [New].
type Server struct {
	orch    *orchestrator.Orchestrator
	queue   *queue.Queue
	speaker *speaker.Speaker

	rec     *recognition.Adapter
	net     *network.Monitor
	health  *health.Handler
	metrics *observe.Metrics
	promH   http.Handler
	cmdCtx  types.CommandContext

	handler http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithRecognizer exposes recognition settings under /v1/recognition.
func WithRecognizer(a *recognition.Adapter) Option {
	return func(s *Server) { s.rec = a }
}

// WithNetwork exposes the connectivity signal under /v1/network.
func WithNetwork(m *network.Monitor) Option {
	return func(s *Server) { s.net = m }
}

// WithHealth registers /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler. Default:
// [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promH = h }
}

// WithCommandContext sets the context attached to /v1/commands/execute
// requests that do not carry one.
func WithCommandContext(c types.CommandContext) Option {
	return func(s *Server) { s.cmdCtx = c }
}

// New builds a [Server]. The orchestrator, queue and speaker are required.
func New(orch *orchestrator.Orchestrator, q *queue.Queue, spk *speaker.Speaker, opts ...Option) (*Server, error) {
	if orch == nil || q == nil || spk == nil {
		return nil, errors.New("api: orchestrator, queue and speaker are required")
	}
	s := &Server{orch: orch, queue: q, speaker: spk}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.promH == nil {
		s.promH = promhttp.Handler()
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = observe.Middleware(s.metrics, observe.WithQuietPaths("/v1/state"))(mux)
	return s, nil
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("POST /v1/listen/start", s.handleListenStart)
	mux.HandleFunc("POST /v1/listen/stop", s.handleListenStop)
	mux.HandleFunc("POST /v1/listen/abort", s.handleListenAbort)
	mux.HandleFunc("POST /v1/voice/enable", s.handleVoiceEnable)

	mux.HandleFunc("POST /v1/commands", s.handleSubmit)
	mux.HandleFunc("POST /v1/commands/execute", s.handleExecute)

	mux.HandleFunc("POST /v1/pending/confirm", s.handleConfirm)
	mux.HandleFunc("POST /v1/pending/edit", s.handleEdit)
	mux.HandleFunc("POST /v1/pending/cancel", s.handleCancel)

	mux.HandleFunc("GET /v1/queue", s.handleQueue)
	mux.HandleFunc("GET /v1/queue/{id}", s.handleQueueGet)
	mux.HandleFunc("POST /v1/queue/sync", s.handleSync)
	mux.HandleFunc("POST /v1/queue/clear", s.handleClear)
	mux.HandleFunc("POST /v1/queue/{id}/retry", s.handleRetry)
	mux.HandleFunc("DELETE /v1/queue/{id}", s.handleRemove)

	mux.HandleFunc("POST /v1/speaker/speak", s.handleSpeak)
	mux.HandleFunc("POST /v1/speaker/stop", s.handleSpeakerStop)
	mux.HandleFunc("POST /v1/speaker/pause", s.handleSpeakerPause)
	mux.HandleFunc("POST /v1/speaker/resume", s.handleSpeakerResume)
	mux.HandleFunc("POST /v1/speaker/repeat", s.handleSpeakerRepeat)

	mux.HandleFunc("GET /v1/recognition/config", s.handleRecognitionConfig)
	mux.HandleFunc("PATCH /v1/recognition/config", s.handleRecognitionUpdate)
	mux.HandleFunc("GET /v1/recognition/languages", s.handleLanguages)
	mux.HandleFunc("GET /v1/recognition/platform", s.handlePlatform)

	mux.HandleFunc("GET /v1/gate", s.handleGate)
	mux.HandleFunc("PUT /v1/gate", s.handleGateUpdate)

	mux.HandleFunc("GET /v1/network", s.handleNetwork)
	mux.HandleFunc("PUT /v1/network", s.handleNetworkSet)
	mux.HandleFunc("POST /v1/network/recheck", s.handleNetworkRecheck)

	mux.Handle("GET /metrics", s.promH)
	if s.health != nil {
		s.health.Register(mux)
	}
}

// ─── Orchestrator ───

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.State())
}

func (s *Server) handleListenStart(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StartListening(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.orch.State())
}

func (s *Server) handleListenStop(w http.ResponseWriter, _ *http.Request) {
	s.orch.StopListening()
	writeJSON(w, http.StatusOK, s.orch.State())
}

func (s *Server) handleListenAbort(w http.ResponseWriter, _ *http.Request) {
	s.orch.AbortListening()
	writeJSON(w, http.StatusOK, s.orch.State())
}

func (s *Server) handleVoiceEnable(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.EnableVoice(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.State())
}

type textRequest struct {
	Text string `json:"text"`
}

type executeRequest struct {
	Text    string                `json:"text"`
	Context *types.CommandContext `json:"context,omitempty"`
}

type executeResponse struct {
	Result orchestrator.Result `json:"result"`
	State  orchestrator.State  `json:"state"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.orch.SubmitText(r.Context(), req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.State())
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decode(w, r, &req) {
		return
	}
	cmdCtx := s.cmdCtx
	if req.Context != nil {
		cmdCtx = *req.Context
	}
	res, err := s.orch.ExecuteCommand(r.Context(), req.Text, cmdCtx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Result: res, State: s.orch.State()})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Confirm(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.State())
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.orch.Edit(req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.State())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Cancel(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.State())
}

// ─── Gate ───

type gateBody struct {
	Threshold   float64 `json:"threshold"`
	MediumBand  float64 `json:"medium_band"`
	AutoExecute bool    `json:"auto_execute"`
}

func (s *Server) handleGate(w http.ResponseWriter, _ *http.Request) {
	p := s.orch.Policy()
	writeJSON(w, http.StatusOK, gateBody{Threshold: p.Threshold, MediumBand: p.MediumBand, AutoExecute: p.AutoExecute})
}

func (s *Server) handleGateUpdate(w http.ResponseWriter, r *http.Request) {
	var req gateBody
	if !decode(w, r, &req) {
		return
	}
	p := orchestrator.Policy{Threshold: req.Threshold, MediumBand: req.MediumBand, AutoExecute: req.AutoExecute}
	if err := s.orch.SetPolicy(p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ─── Queue ───

type queueResponse struct {
	Commands []queue.Command `json:"commands"`
	Stats    queue.Stats     `json:"stats"`
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, queueResponse{Commands: s.queue.Queue(), Stats: s.queue.Stats()})
}

func (s *Server) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.queue.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, queue.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.queue.SyncQueue(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("completed") == "true" {
		s.queue.ClearCompleted()
	} else {
		s.queue.ClearAll()
	}
	writeJSON(w, http.StatusOK, queueResponse{Commands: s.queue.Queue(), Stats: s.queue.Stats()})
}

type retryResponse struct {
	Result  *types.ExecutionResult `json:"result,omitempty"`
	Command *queue.Command         `json:"command,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.queue.RetryCommand(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, queue.ErrBusy):
		writeError(w, r, err)
	case err != nil:
		// The executor was unreachable; the command is back in the queue.
		out := retryResponse{Error: err.Error()}
		if c, ok := s.queue.Get(id); ok {
			out.Command = &c
		}
		writeJSON(w, http.StatusBadGateway, out)
	default:
		writeJSON(w, http.StatusOK, retryResponse{Result: res})
	}
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if !s.queue.RemoveFromQueue(r.PathValue("id")) {
		writeError(w, r, queue.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Speaker ───

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speaker.Response
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "text is required"})
		return
	}
	s.speaker.Speak(req)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSpeakerStop(w http.ResponseWriter, _ *http.Request) {
	s.orch.StopSpeaking()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpeakerPause(w http.ResponseWriter, r *http.Request) {
	if err := s.speaker.Pause(); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpeakerResume(w http.ResponseWriter, r *http.Request) {
	if err := s.speaker.Resume(); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpeakerRepeat(w http.ResponseWriter, _ *http.Request) {
	s.orch.RepeatLast()
	w.WriteHeader(http.StatusAccepted)
}

// ─── Recognition ───

type recognitionConfig struct {
	Language            string   `json:"language"`
	Continuous          bool     `json:"continuous"`
	InterimResults      bool     `json:"interim_results"`
	MaxAlternatives     int      `json:"max_alternatives"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	NoSpeechTimeoutMs   int64    `json:"no_speech_timeout_ms"`
	SampleRate          int      `json:"sample_rate"`
	Keywords            []string `json:"keywords,omitempty"`
}

func viewConfig(c recognition.Config) recognitionConfig {
	v := recognitionConfig{
		Language:            c.Language,
		Continuous:          c.Continuous,
		InterimResults:      c.InterimResults,
		MaxAlternatives:     c.MaxAlternatives,
		ConfidenceThreshold: c.ConfidenceThreshold,
		NoSpeechTimeoutMs:   c.NoSpeechTimeout.Milliseconds(),
		SampleRate:          c.SampleRate,
	}
	for _, k := range c.Keywords {
		v.Keywords = append(v.Keywords, k.Keyword)
	}
	return v
}

type recognitionUpdate struct {
	Language            *string  `json:"language"`
	Continuous          *bool    `json:"continuous"`
	InterimResults      *bool    `json:"interim_results"`
	MaxAlternatives     *int     `json:"max_alternatives"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
}

func (s *Server) handleRecognitionConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecognizer(w) {
		return
	}
	writeJSON(w, http.StatusOK, viewConfig(s.rec.Config()))
}

func (s *Server) handleRecognitionUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecognizer(w) {
		return
	}
	var req recognitionUpdate
	if !decode(w, r, &req) {
		return
	}
	if req.Language != nil && !recognition.IsLanguageSupported(*req.Language) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unsupported language %q", *req.Language)})
		return
	}
	cfg := s.rec.UpdateConfig(recognition.ConfigUpdate{
		Language:            req.Language,
		Continuous:          req.Continuous,
		InterimResults:      req.InterimResults,
		MaxAlternatives:     req.MaxAlternatives,
		ConfidenceThreshold: req.ConfidenceThreshold,
	})
	writeJSON(w, http.StatusOK, viewConfig(cfg))
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, recognition.SupportedLanguages())
}

func (s *Server) handlePlatform(w http.ResponseWriter, _ *http.Request) {
	if s.rec == nil {
		writeJSON(w, http.StatusOK, recognition.PlatformInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.rec.PlatformInfo())
}

func (s *Server) requireRecognizer(w http.ResponseWriter) bool {
	if s.rec == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "voice input is not configured"})
		return false
	}
	return true
}

// ─── Network ───

type networkBody struct {
	Online bool `json:"online"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, _ *http.Request) {
	if s.net == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "network monitor is not configured"})
		return
	}
	writeJSON(w, http.StatusOK, networkBody{Online: s.net.Online()})
}

func (s *Server) handleNetworkSet(w http.ResponseWriter, r *http.Request) {
	if s.net == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "network monitor is not configured"})
		return
	}
	var req networkBody
	if !decode(w, r, &req) {
		return
	}
	s.net.Set(req.Online)
	writeJSON(w, http.StatusOK, networkBody{Online: s.net.Online()})
}

func (s *Server) handleNetworkRecheck(w http.ResponseWriter, _ *http.Request) {
	if s.net == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "network monitor is not configured"})
		return
	}
	s.net.Recheck()
	w.WriteHeader(http.StatusAccepted)
}

// ─── Helpers ───

type errorBody struct {
	Error       string `json:"error"`
	Type        string `json:"type,omitempty"`
	Recoverable *bool  `json:"recoverable,omitempty"`
}

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	var recErr *recognition.Error
	switch {
	case errors.Is(err, queue.ErrEmptyCommand):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrBusy),
		errors.Is(err, queue.ErrSyncInProgress),
		errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrNothingPending),
		errors.Is(err, orchestrator.ErrVoiceDisabled),
		errors.Is(err, recognition.ErrAlreadyListening):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrClosed), errors.As(err, &recErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var recErr *recognition.Error
	if errors.As(err, &recErr) {
		body.Type = string(recErr.Type)
		body.Recoverable = &recErr.Recoverable
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v. It writes a 400 and returns false on
// failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
