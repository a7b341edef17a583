package jobapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/environment"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/validator"
)

// API serves job submission and introspection over HTTP
type API struct {
	enq    *queue.Enqueuer
	insp   *queue.Inspector
	cfg    Config
	env    environment.Environment
	log    *slog.Logger
	checks []func(context.Context) error
}

// Option configures an API
type Option func(*API)

// WithConfig replaces the request limits. Zero fields keep the defaults.
func WithConfig(cfg Config) Option {
	return func(a *API) {
		if cfg.MaxBodyBytes > 0 {
			a.cfg.MaxBodyBytes = cfg.MaxBodyBytes
		}
		if cfg.DefaultListLimit > 0 {
			a.cfg.DefaultListLimit = cfg.DefaultListLimit
		}
		if cfg.MaxListLimit > 0 {
			a.cfg.MaxListLimit = cfg.MaxListLimit
		}
	}
}

// WithLogger sets the logger for request failures
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithEnvironment attaches env to every request context
func WithEnvironment(env environment.Environment) Option {
	return func(a *API) {
		a.env = env
	}
}

// WithHealthchecks adds dependency checks to the readiness probe
func WithHealthchecks(checks ...func(context.Context) error) Option {
	return func(a *API) {
		a.checks = append(a.checks, checks...)
	}
}

// New creates the API over an enqueuer and an inspector sharing one registry
func New(enq *queue.Enqueuer, insp *queue.Inspector, opts ...Option) (*API, error) {
	if enq == nil {
		return nil, ErrEnqueuerNil
	}
	if insp == nil {
		return nil, ErrInspectorNil
	}

	a := &API{
		enq:  enq,
		insp: insp,
		cfg:  DefaultConfig(),
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Handler returns the routed HTTP handler
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	if a.env != "" {
		r.Use(environment.Middleware(a.env))
	}

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ALIVE"))
	})
	r.Get("/health/ready", a.ready)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", a.wrap(a.submitJob))
		r.Get("/{id}", a.wrap(a.getJob))
		r.Get("/{id}/children", a.wrap(a.childJobs))
		r.Post("/{id}/retry", a.wrap(a.retryJob))
	})

	r.Route("/queues", func(r chi.Router) {
		r.Get("/", a.wrap(a.listQueues))
		r.Get("/{name}/stats", a.wrap(a.queueStats))
		r.Get("/{name}/jobs", a.wrap(a.queueJobs))
	})

	return r
}

type handlerFunc func(r *http.Request) Response

// wrap renders the handler's response
func (a *API) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h(r)
		if resp == nil {
			resp = JSONError(ErrNilResponse)
		}
		if err := resp.Render(w, r); err != nil {
			a.log.ErrorContext(r.Context(), "failed to render response", logger.Error(err))
		}
	}
}

// fail logs the cause of a 5xx before it is replaced by a generic message
func (a *API) fail(r *http.Request, err error) Response {
	resp := JSONError(err)
	if jr := resp.(*jsonResponse); jr.status >= http.StatusInternalServerError {
		a.log.ErrorContext(r.Context(), "job API operation failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Error(err))
	}
	return resp
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := healthy(a.checks, 5*time.Second)(r.Context()); err != nil {
		a.log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT_READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

// MaxDelay is the longest delay a submitted job may ask for
const MaxDelay = 366 * 24 * time.Hour

// SubmitRequest is the body of POST /jobs
type SubmitRequest struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	DelayMS  int64           `json:"delay_ms"`
	Priority *int            `json:"priority"`
	ParentID string          `json:"parent_id"`
}

// Validate checks the envelope; the payload is validated by the job definition
func (req SubmitRequest) Validate() error {
	rules := []validator.Rule{
		validator.RequiredString("type", req.Type),
		validator.Between("delay_ms", req.DelayMS, 0, MaxDelay.Milliseconds()),
	}
	if req.Priority != nil {
		rules = append(rules, validator.Between("priority", *req.Priority, int(queue.PriorityMin), int(queue.PriorityMax)))
	}
	if req.ParentID != "" {
		rules = append(rules, validator.ValidUUID("parent_id", req.ParentID))
	}
	return validator.Apply(rules...)
}

// SubmitResponse is returned with 202 Accepted once the job is stored
type SubmitResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

func (a *API) submitJob(r *http.Request) Response {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, a.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return JSONError(HTTPError{Code: http.StatusRequestEntityTooLarge, Key: "body_too_large", Message: err.Error()})
		}
		return JSONError(badRequest("invalid_body", err.Error()))
	}

	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return JSONError(badRequest("invalid_json", err.Error()))
	}
	if err := req.Validate(); err != nil {
		return JSONError(err)
	}

	var opts []queue.EnqueueOption
	if req.DelayMS > 0 {
		opts = append(opts, queue.WithDelay(time.Duration(req.DelayMS)*time.Millisecond))
	}
	if req.Priority != nil {
		opts = append(opts, queue.WithPriority(queue.Priority(*req.Priority)))
	}
	if req.ParentID != "" {
		opts = append(opts, queue.WithParent(uuid.MustParse(req.ParentID)))
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	id, err := a.enq.Enqueue(r.Context(), req.Type, payload, opts...)
	if err != nil {
		return a.fail(r, err)
	}
	return JSON(SubmitResponse{JobID: id}, WithStatus(http.StatusAccepted))
}

func (a *API) getJob(r *http.Request) Response {
	id, err := pathID(r)
	if err != nil {
		return JSONError(err)
	}
	job, err := a.insp.GetJob(r.Context(), id)
	if err != nil {
		return a.fail(r, err)
	}
	return JSON(job)
}

func (a *API) childJobs(r *http.Request) Response {
	id, err := pathID(r)
	if err != nil {
		return JSONError(err)
	}
	children, err := a.insp.ChildJobs(r.Context(), id)
	if err != nil {
		return a.fail(r, err)
	}
	if children == nil {
		children = []*queue.Job{}
	}
	return JSON(children, WithMeta(map[string]any{"count": len(children)}))
}

func (a *API) retryJob(r *http.Request) Response {
	id, err := pathID(r)
	if err != nil {
		return JSONError(err)
	}
	if err := a.insp.RetryJob(r.Context(), id); err != nil {
		return a.fail(r, err)
	}
	job, err := a.insp.GetJob(r.Context(), id)
	if err != nil {
		return a.fail(r, err)
	}
	return JSON(job)
}

// QueueView describes one registered queue
type QueueView struct {
	Name     string              `json:"name"`
	Config   queue.QueueConfig   `json:"config"`
	Counters queue.QueueCounters `json:"counters"`
	Stats    queue.QueueStats    `json:"stats"`
}

func (a *API) listQueues(r *http.Request) Response {
	stats, err := a.insp.AllQueueStats(r.Context())
	if err != nil {
		return a.fail(r, err)
	}
	byName := make(map[string]queue.QueueStats, len(stats))
	for _, s := range stats {
		byName[s.Queue] = s
	}

	queues := a.insp.Registry().Queues()
	out := make([]QueueView, 0, len(queues))
	for _, q := range queues {
		out = append(out, QueueView{
			Name:     q.Name(),
			Config:   q.Config(),
			Counters: q.Counters(),
			Stats:    byName[q.Name()],
		})
	}
	return JSON(out)
}

func (a *API) queueStats(r *http.Request) Response {
	stats, err := a.insp.QueueStats(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		return a.fail(r, err)
	}
	return JSON(stats)
}

func (a *API) queueJobs(r *http.Request) Response {
	q := r.URL.Query()
	filter := queue.ListFilter{
		Queue:  chi.URLParam(r, "name"),
		Status: queue.JobStatus(q.Get("status")),
		Limit:  a.cfg.DefaultListLimit,
	}

	var rules []validator.Rule
	if filter.Status != "" {
		rules = append(rules, validator.OneOf("status", filter.Status,
			queue.StatusWaiting, queue.StatusDelayed, queue.StatusActive,
			queue.StatusWaitingChildren, queue.StatusCompleted, queue.StatusFailed))
	}
	for _, p := range []struct {
		name string
		dst  *int
		max  int
	}{
		{"limit", &filter.Limit, a.cfg.MaxListLimit},
		{"offset", &filter.Offset, 0},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return JSONError(badRequest("invalid_"+p.name, p.name+" must be an integer"))
		}
		*p.dst = n
		rules = append(rules, validator.Min(p.name, n, 0))
		if p.max > 0 {
			rules = append(rules, validator.Max(p.name, n, p.max))
		}
	}
	if err := validator.Apply(rules...); err != nil {
		return JSONError(err)
	}

	jobs, err := a.insp.ListJobs(r.Context(), filter)
	if err != nil {
		return a.fail(r, err)
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	return JSON(jobs, WithMeta(map[string]any{
		"count":  len(jobs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	}))
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, badRequest("invalid_job_id", "job id must be a UUID")
	}
	return id, nil
}
