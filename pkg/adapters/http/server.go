// Package http exposes open forms over a JSON API with a Server-Sent Events
// stream of editor events.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/aretw0/formtree"
	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/command"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/events"
	"github.com/aretw0/formtree/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Forms is the form registry the server works against. session.Manager implements it.
type Forms interface {
	OpenExisting(ctx context.Context, formID string) (*formtree.Editor, error)
	Close(ctx context.Context, formID string) error
	Save(ctx context.Context, state *domain.FormState) error
	Delete(ctx context.Context, formID string) error
	List(ctx context.Context) ([]string, error)
}

// Server serves the form API.
type Server struct {
	Forms     Forms
	Templates ports.TemplateSource

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithTemplates enables creating forms from templates and GET /templates.
func WithTemplates(src ports.TemplateSource) Option {
	return func(s *Server) { s.Templates = src }
}

// WithMetrics serves g on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewHandler creates a new HTTP handler for forms.
func NewHandler(forms Forms, opts ...Option) http.Handler {
	s := &Server{Forms: forms, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/templates", s.ListTemplates)

	r.Route("/forms", func(r chi.Router) {
		r.Get("/", s.ListForms)
		r.Post("/", s.CreateForm)
		r.Route("/{formID}", func(r chi.Router) {
			r.Get("/", s.GetForm)
			r.Delete("/", s.DeleteForm)
			r.Post("/close", s.CloseForm)
			r.Get("/tree", s.GetTree)
			r.Get("/history", s.GetHistory)
			r.Post("/undo", s.Undo)
			r.Post("/redo", s.Redo)
			r.Post("/save", s.SaveForm)
			r.Post("/validate", s.Validate)
			r.Post("/sync", s.Sync)
			r.Get("/events", s.SubscribeEvents)

			r.Post("/nodes", s.AddNode)
			r.Get("/nodes/{nodeID}", s.GetNode)
			r.Patch("/nodes/{nodeID}", s.UpdateNode)
			r.Delete("/nodes/{nodeID}", s.DeleteNode)
			r.Post("/nodes/{nodeID}/move", s.MoveNode)
			r.Get("/nodes/{nodeID}/questions", s.ListQuestions)
			r.Post("/nodes/{nodeID}/questions", s.AddQuestion)
			r.Put("/nodes/{nodeID}/questions/order", s.ReorderQuestions)

			r.Patch("/questions/{questionID}", s.UpdateQuestion)
			r.Delete("/questions/{questionID}", s.DeleteQuestion)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "formtree-http",
		"version": strings.TrimSpace(formtree.Version),
	})
}

func (s *Server) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if s.Templates == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	names, err := s.Templates.ListTemplates(r.Context())
	if err != nil {
		s.fail(w, "list templates", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) ListForms(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Forms.List(r.Context())
	if err != nil {
		s.fail(w, "list forms", err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// CreateFormRequest is the body of POST /forms.
type CreateFormRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Template string `json:"template,omitempty"`
}

// CreateForm handles POST /forms. The form is stored, then opened.
func (s *Server) CreateForm(w http.ResponseWriter, r *http.Request) {
	var body CreateFormRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	ids, err := s.Forms.List(r.Context())
	if err != nil {
		s.fail(w, "list forms", err)
		return
	}
	if slices.Contains(ids, body.ID) {
		http.Error(w, fmt.Sprintf("form %q already exists", body.ID), http.StatusConflict)
		return
	}

	state := domain.NewFormState(body.ID, body.Name, body.Slug)
	if body.Template != "" {
		if s.Templates == nil {
			http.Error(w, "templates are not configured", http.StatusBadRequest)
			return
		}
		tpl, err := s.Templates.LoadTemplate(r.Context(), body.Template)
		if err != nil {
			s.fail(w, "load template", err)
			return
		}
		tpl.ID = body.ID
		if body.Name != "" {
			tpl.Name = body.Name
		}
		if body.Slug != "" {
			tpl.Slug = body.Slug
		}
		state = tpl
	}

	if err := s.Forms.Save(r.Context(), state); err != nil {
		s.fail(w, "create form", err)
		return
	}
	ed, err := s.Forms.OpenExisting(r.Context(), body.ID)
	if err != nil {
		s.fail(w, "open form", err)
		return
	}
	writeJSON(w, http.StatusCreated, ed.State())
}

func (s *Server) GetForm(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		writeJSON(w, http.StatusOK, ed.State())
	})
}

func (s *Server) DeleteForm(w http.ResponseWriter, r *http.Request) {
	if err := s.Forms.Delete(r.Context(), chi.URLParam(r, "formID")); err != nil {
		s.fail(w, "delete form", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseForm handles POST /forms/{formID}/close: flush and release the editor.
func (s *Server) CloseForm(w http.ResponseWriter, r *http.Request) {
	if err := s.Forms.Close(r.Context(), chi.URLParam(r, "formID")); err != nil {
		s.fail(w, "close form", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetTree(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		writeJSON(w, http.StatusOK, ed.Tree())
	})
}

// HistoryResponse lists recorded commands, oldest first.
type HistoryResponse struct {
	Commands []string `json:"commands"`
	Cursor   int      `json:"cursor"`
	CanUndo  bool     `json:"canUndo"`
	CanRedo  bool     `json:"canRedo"`
}

func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		writeJSON(w, http.StatusOK, history(ed))
	})
}

func history(ed *formtree.Editor) HistoryResponse {
	cmds, cursor := ed.History()
	if cmds == nil {
		cmds = []string{}
	}
	return HistoryResponse{Commands: cmds, Cursor: cursor, CanUndo: ed.CanUndo(), CanRedo: ed.CanRedo()}
}

func (s *Server) Undo(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		if err := ed.Undo(r.Context()); err != nil {
			s.fail(w, "undo", err)
			return
		}
		writeJSON(w, http.StatusOK, history(ed))
	})
}

func (s *Server) Redo(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		if err := ed.Redo(r.Context()); err != nil {
			s.fail(w, "redo", err)
			return
		}
		writeJSON(w, http.StatusOK, history(ed))
	})
}

func (s *Server) SaveForm(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		if err := ed.ForceSave(r.Context()); err != nil {
			s.fail(w, "save", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) Validate(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		res, err := ed.Validate(r.Context())
		if err != nil {
			s.fail(w, "validate", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		adopted, err := ed.SyncNow(r.Context())
		if err != nil {
			s.fail(w, "sync", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"adopted": adopted})
	})
}

// AddNode handles POST /forms/{formID}/nodes. The body is a node in its
// stored shape; parentId selects where it goes.
func (s *Server) AddNode(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		node, err := domain.UnmarshalNode(data)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid node: %v", err), http.StatusBadRequest)
			return
		}
		parentID := node.Base().ParentID
		if parentID == "" {
			parentID = ed.RootID()
		}
		id, err := ed.AddNode(r.Context(), parentID, node)
		if err != nil {
			s.fail(w, "add node", err)
			return
		}
		details, _ := ed.NodeDetails(id)
		writeJSON(w, http.StatusCreated, details)
	})
}

func (s *Server) GetNode(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		details, ok := ed.NodeDetails(chi.URLParam(r, "nodeID"))
		if !ok {
			http.Error(w, "node not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, details)
	})
}

func (s *Server) UpdateNode(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		var patch domain.NodePatch
		if !s.decode(w, r, &patch) {
			return
		}
		id := chi.URLParam(r, "nodeID")
		if err := ed.UpdateNode(r.Context(), id, patch); err != nil {
			s.fail(w, "update node", err)
			return
		}
		details, _ := ed.NodeDetails(id)
		writeJSON(w, http.StatusOK, details)
	})
}

func (s *Server) DeleteNode(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		if err := ed.DeleteNode(r.Context(), chi.URLParam(r, "nodeID")); err != nil {
			s.fail(w, "delete node", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// MoveRequest is the body of POST .../move. A nil index appends.
type MoveRequest struct {
	ParentID string `json:"parentId"`
	Index    *int   `json:"index,omitempty"`
}

func (s *Server) MoveNode(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		var body MoveRequest
		if !s.decode(w, r, &body) {
			return
		}
		index := -1
		if body.Index != nil {
			index = *body.Index
		}
		id := chi.URLParam(r, "nodeID")
		if err := ed.MoveNode(r.Context(), id, body.ParentID, index); err != nil {
			s.fail(w, "move node", err)
			return
		}
		details, _ := ed.NodeDetails(id)
		writeJSON(w, http.StatusOK, details)
	})
}

func (s *Server) ListQuestions(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		qs := ed.ServiceQuestions(chi.URLParam(r, "nodeID"))
		if qs == nil {
			qs = []*domain.Question{}
		}
		writeJSON(w, http.StatusOK, qs)
	})
}

func (s *Server) AddQuestion(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		var config map[string]any
		if !s.decode(w, r, &config) {
			return
		}
		serviceID := chi.URLParam(r, "nodeID")
		id, err := ed.AddQuestion(r.Context(), serviceID, config)
		if err != nil {
			s.fail(w, "add question", err)
			return
		}
		writeJSON(w, http.StatusCreated, question(ed, serviceID, id))
	})
}

// OrderRequest is the body of PUT .../questions/order.
type OrderRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) ReorderQuestions(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		var body OrderRequest
		if !s.decode(w, r, &body) {
			return
		}
		serviceID := chi.URLParam(r, "nodeID")
		if err := ed.ReorderQuestions(r.Context(), serviceID, body.IDs); err != nil {
			s.fail(w, "reorder questions", err)
			return
		}
		writeJSON(w, http.StatusOK, ed.ServiceQuestions(serviceID))
	})
}

func (s *Server) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		var config map[string]any
		if !s.decode(w, r, &config) {
			return
		}
		id := chi.URLParam(r, "questionID")
		if err := ed.UpdateQuestion(r.Context(), id, config); err != nil {
			s.fail(w, "update question", err)
			return
		}
		writeJSON(w, http.StatusOK, ed.State().Questions[id])
	})
}

func (s *Server) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	s.withEditor(w, r, func(ed *formtree.Editor) {
		if err := ed.DeleteQuestion(r.Context(), chi.URLParam(r, "questionID")); err != nil {
			s.fail(w, "delete question", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func question(ed *formtree.Editor, serviceID, id string) *domain.Question {
	for _, q := range ed.ServiceQuestions(serviceID) {
		if q.ID == id {
			return q
		}
	}
	return nil
}

// SubscribeEvents handles the GET /forms/{formID}/events request (SSE).
// The optional watch parameter is a comma-separated list of event name
// prefixes, e.g. watch=node.,form.saved
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}
	ed, err := s.Forms.OpenExisting(r.Context(), chi.URLParam(r, "formID"))
	if err != nil {
		s.fail(w, "open form", err)
		return
	}

	var watch []string
	if raw := r.URL.Query().Get("watch"); raw != "" {
		watch = strings.Split(raw, ",")
	}
	stream := events.NewStream(ed.Bus(), 0, s.logger)
	defer stream.Close()
	ch, cancel := stream.Subscribe(watch...)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Info("SSE: Subscribing to form events", "form_id", ed.FormID(), "watch", watch)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "form_id", ed.FormID())
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("SSE: failed to encode event", "event", ev.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// -- Helpers --

func (s *Server) withEditor(w http.ResponseWriter, r *http.Request, fn func(*formtree.Editor)) {
	ed, err := s.Forms.OpenExisting(r.Context(), chi.URLParam(r, "formID"))
	if err != nil {
		s.fail(w, "open form", err)
		return
	}
	fn(ed)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "error", err)
		return false
	}
	return true
}

// fail maps err to a status code.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrFormNotFound):
		status = http.StatusNotFound
	case errors.Is(err, command.ErrRejected), errors.Is(err, domain.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, command.ErrBusy):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "error", err)
	}
	http.Error(w, fmt.Sprintf("%s: %v", op, err), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
