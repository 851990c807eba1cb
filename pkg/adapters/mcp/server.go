// Package mcp exposes form editing as Model Context Protocol tools, so
// agents can build a form through the same command history as a human editor.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/formtree"
	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/ports"
	"github.com/aretw0/formtree/pkg/validation"
	"github.com/aretw0/formtree/pkg/view"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Forms is the form registry the tools work against. session.Manager implements it.
type Forms interface {
	Open(ctx context.Context, formID string) (*formtree.Editor, error)
	OpenExisting(ctx context.Context, formID string) (*formtree.Editor, error)
	Save(ctx context.Context, state *domain.FormState) error
	List(ctx context.Context) ([]string, error)
}

// FormArgs selects a stored form.
type FormArgs struct {
	FormID string `json:"form_id"`
}

// CreateFormArgs are the arguments of create_form.
type CreateFormArgs struct {
	FormID   string `json:"form_id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Template string `json:"template"`
}

// NodeArgs selects a node of a form.
type NodeArgs struct {
	FormID string `json:"form_id"`
	NodeID string `json:"node_id"`
}

// AddNodeArgs are the arguments of add_node.
type AddNodeArgs struct {
	FormID      string         `json:"form_id"`
	ParentID    string         `json:"parent_id"`
	Type        string         `json:"type"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes"`
}

// UpdateNodeArgs are the arguments of update_node. Absent fields are kept.
type UpdateNodeArgs struct {
	FormID      string         `json:"form_id"`
	NodeID      string         `json:"node_id"`
	Title       *string        `json:"title"`
	Label       *string        `json:"label"`
	Description *string        `json:"description"`
	Attributes  map[string]any `json:"attributes"`
}

// MoveNodeArgs are the arguments of move_node. A missing index appends.
type MoveNodeArgs struct {
	FormID   string `json:"form_id"`
	NodeID   string `json:"node_id"`
	ParentID string `json:"parent_id"`
	Index    *int   `json:"index"`
}

// QuestionArgs are the arguments of add_question and update_question.
type QuestionArgs struct {
	FormID     string         `json:"form_id"`
	ServiceID  string         `json:"service_id"`
	QuestionID string         `json:"question_id"`
	Config     map[string]any `json:"config"`
}

// ReorderArgs are the arguments of reorder_questions.
type ReorderArgs struct {
	FormID    string   `json:"form_id"`
	ServiceID string   `json:"service_id"`
	IDs       []string `json:"ids"`
}

// ChangeResult is returned by every mutating tool.
type ChangeResult struct {
	ID      string `json:"id,omitempty" jsonschema_description:"ID of the created node or question"`
	Version uint64 `json:"version" jsonschema_description:"Store version after the change"`
	Dirty   bool   `json:"dirty" jsonschema_description:"Whether the form has unsaved changes"`
	CanUndo bool   `json:"canUndo"`
	CanRedo bool   `json:"canRedo"`
}

// HistoryResult lists recorded commands, oldest first.
type HistoryResult struct {
	Commands []string `json:"commands"`
	Cursor   int      `json:"cursor" jsonschema_description:"Index of the last applied command, -1 when none"`
	CanUndo  bool     `json:"canUndo"`
	CanRedo  bool     `json:"canRedo"`
}

// Server exposes a Forms registry as an MCP Server.
type Server struct {
	forms     Forms
	templates ports.TemplateSource
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithTemplates enables the template argument of create_form.
func WithTemplates(src ports.TemplateSource) Option {
	return func(s *Server) { s.templates = src }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new MCP Server instance.
func NewServer(forms Forms, opts ...Option) *Server {
	s := &Server{
		forms:  forms,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer("formtree-mcp", strings.TrimSpace(formtree.Version),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		baseURL = "http://" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func formID() mcp.ToolOption {
	return mcp.WithString("form_id", mcp.Required(), mcp.Description("ID of the form"))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_forms",
		mcp.WithDescription("List the IDs of the stored forms."),
	), s.handleListForms)

	s.mcpServer.AddTool(mcp.NewTool("create_form",
		mcp.WithDescription("Create and store an empty form, or a copy of a template."),
		formID(),
		mcp.WithString("name", mcp.Description("Display name")),
		mcp.WithString("slug", mcp.Description("URL slug")),
		mcp.WithString("template", mcp.Description("Template to start from (optional)")),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleCreateForm))

	s.mcpServer.AddTool(mcp.NewTool("get_tree",
		mcp.WithDescription("Get the display tree of a form: labels, types and question counts."),
		formID(),
	), mcp.NewStructuredToolHandler(s.handleTree))

	s.mcpServer.AddTool(mcp.NewTool("get_node",
		mcp.WithDescription("Get a node with its parent, children and questions."),
		formID(),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("ID of the node")),
	), mcp.NewStructuredToolHandler(s.handleNode))

	s.mcpServer.AddTool(mcp.NewTool("add_node",
		mcp.WithDescription("Add a group or service under a root or group node."),
		formID(),
		mcp.WithString("type", mcp.Required(), mcp.Enum("group", "service"), mcp.Description("Node type")),
		mcp.WithString("parent_id", mcp.Description("Parent node; defaults to the root")),
		mcp.WithString("label", mcp.Description("Display label")),
		mcp.WithString("description", mcp.Description("Group description")),
		mcp.WithObject("attributes", mcp.Description("Service attributes such as price or duration")),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleAddNode))

	s.mcpServer.AddTool(mcp.NewTool("update_node",
		mcp.WithDescription("Update fields of a node. Omitted fields are kept; attributes are merged."),
		formID(),
		mcp.WithString("node_id", mcp.Required()),
		mcp.WithString("title", mcp.Description("Root title")),
		mcp.WithString("label"),
		mcp.WithString("description"),
		mcp.WithObject("attributes"),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleUpdateNode))

	s.mcpServer.AddTool(mcp.NewTool("delete_node",
		mcp.WithDescription("Delete a node with its subtree and questions."),
		formID(),
		mcp.WithString("node_id", mcp.Required()),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleDeleteNode))

	s.mcpServer.AddTool(mcp.NewTool("move_node",
		mcp.WithDescription("Move a node under a new parent."),
		formID(),
		mcp.WithString("node_id", mcp.Required()),
		mcp.WithString("parent_id", mcp.Required()),
		mcp.WithNumber("index", mcp.Description("Position among the new siblings; appends when omitted")),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleMoveNode))

	s.mcpServer.AddTool(mcp.NewTool("add_question",
		mcp.WithDescription("Append a question to a service."),
		formID(),
		mcp.WithString("service_id", mcp.Required()),
		mcp.WithObject("config", mcp.Required(), mcp.Description("Question configuration, e.g. {\"label\": \"Name?\"}")),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleAddQuestion))

	s.mcpServer.AddTool(mcp.NewTool("update_question",
		mcp.WithDescription("Merge config into a question."),
		formID(),
		mcp.WithString("question_id", mcp.Required()),
		mcp.WithObject("config", mcp.Required()),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleUpdateQuestion))

	s.mcpServer.AddTool(mcp.NewTool("delete_question",
		mcp.WithDescription("Remove a question from its service."),
		formID(),
		mcp.WithString("question_id", mcp.Required()),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleDeleteQuestion))

	s.mcpServer.AddTool(mcp.NewTool("reorder_questions",
		mcp.WithDescription("Set the question order of a service. ids must be a permutation of its questions."),
		formID(),
		mcp.WithString("service_id", mcp.Required()),
		mcp.WithArray("ids", mcp.Required(), mcp.WithStringItems()),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleReorder))

	s.mcpServer.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the last command."),
		formID(),
		mcp.WithOutputSchema[HistoryResult](),
	), mcp.NewStructuredToolHandler(s.handleUndo))

	s.mcpServer.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Redo the last undone command."),
		formID(),
		mcp.WithOutputSchema[HistoryResult](),
	), mcp.NewStructuredToolHandler(s.handleRedo))

	s.mcpServer.AddTool(mcp.NewTool("get_history",
		mcp.WithDescription("List the command history of a form."),
		formID(),
		mcp.WithOutputSchema[HistoryResult](),
	), mcp.NewStructuredToolHandler(s.handleHistory))

	s.mcpServer.AddTool(mcp.NewTool("validate",
		mcp.WithDescription("Validate the form and report issues."),
		formID(),
		mcp.WithOutputSchema[validation.Result](),
	), mcp.NewStructuredToolHandler(s.handleValidate))

	s.mcpServer.AddTool(mcp.NewTool("save",
		mcp.WithDescription("Persist the form now."),
		formID(),
		mcp.WithOutputSchema[ChangeResult](),
	), mcp.NewStructuredToolHandler(s.handleSave))
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("formtree://forms", "Stored forms",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids, err := s.forms.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list forms: %w", err)
		}
		jsonBytes, _ := json.Marshal(ids)
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "formtree://forms",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})

	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate("formtree://forms/{id}", "Form state",
		mcp.WithTemplateMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id := strings.TrimPrefix(request.Params.URI, "formtree://forms/")
		ed, err := s.forms.OpenExisting(ctx, id)
		if err != nil {
			return nil, err
		}
		jsonBytes, err := json.Marshal(ed.State())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      request.Params.URI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

func (s *Server) handleListForms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := s.forms.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if ids == nil {
		ids = []string{}
	}
	jsonBytes, _ := json.Marshal(ids)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) editor(ctx context.Context, id string) (*formtree.Editor, error) {
	if id == "" {
		return nil, errors.New("form_id is required")
	}
	return s.forms.OpenExisting(ctx, id)
}

func changed(ed *formtree.Editor, id string) ChangeResult {
	return ChangeResult{
		ID:      id,
		Version: ed.Version(),
		Dirty:   ed.IsDirty(),
		CanUndo: ed.CanUndo(),
		CanRedo: ed.CanRedo(),
	}
}

func history(ed *formtree.Editor) HistoryResult {
	cmds, cursor := ed.History()
	if cmds == nil {
		cmds = []string{}
	}
	return HistoryResult{Commands: cmds, Cursor: cursor, CanUndo: ed.CanUndo(), CanRedo: ed.CanRedo()}
}

func (s *Server) handleCreateForm(ctx context.Context, request mcp.CallToolRequest, args CreateFormArgs) (ChangeResult, error) {
	if args.FormID == "" {
		return ChangeResult{}, errors.New("form_id is required")
	}
	if _, err := s.forms.OpenExisting(ctx, args.FormID); err == nil {
		return ChangeResult{}, fmt.Errorf("form %q already exists", args.FormID)
	} else if !errors.Is(err, domain.ErrFormNotFound) {
		return ChangeResult{}, err
	}

	state := domain.NewFormState(args.FormID, args.Name, args.Slug)
	if args.Template != "" {
		if s.templates == nil {
			return ChangeResult{}, errors.New("templates are not configured")
		}
		tpl, err := s.templates.LoadTemplate(ctx, args.Template)
		if err != nil {
			return ChangeResult{}, err
		}
		tpl.ID = args.FormID
		if args.Name != "" {
			tpl.Name = args.Name
		}
		if args.Slug != "" {
			tpl.Slug = args.Slug
		}
		state = tpl
	}
	if err := s.forms.Save(ctx, state); err != nil {
		return ChangeResult{}, err
	}
	ed, err := s.forms.Open(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	s.logger.Info("MCP: form created", "form_id", args.FormID, "template", args.Template)
	return changed(ed, ed.RootID()), nil
}

func (s *Server) handleTree(ctx context.Context, request mcp.CallToolRequest, args FormArgs) (*view.TreeNode, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return nil, err
	}
	return ed.Tree(), nil
}

func (s *Server) handleNode(ctx context.Context, request mcp.CallToolRequest, args NodeArgs) (*view.Details, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return nil, err
	}
	details, ok := ed.NodeDetails(args.NodeID)
	if !ok {
		return nil, fmt.Errorf("node %q not found", args.NodeID)
	}
	return details, nil
}

func (s *Server) handleAddNode(ctx context.Context, request mcp.CallToolRequest, args AddNodeArgs) (ChangeResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	var node domain.Node
	switch domain.NodeType(args.Type) {
	case domain.NodeTypeGroup:
		node = &domain.GroupNode{Label: args.Label, Description: args.Description}
	case domain.NodeTypeService:
		node = &domain.ServiceNode{Label: args.Label, Attributes: args.Attributes}
	default:
		return ChangeResult{}, fmt.Errorf("unsupported node type %q", args.Type)
	}
	parent := args.ParentID
	if parent == "" {
		parent = ed.RootID()
	}
	id, err := ed.AddNode(ctx, parent, node)
	if err != nil {
		return ChangeResult{}, err
	}
	return changed(ed, id), nil
}

func (s *Server) handleUpdateNode(ctx context.Context, request mcp.CallToolRequest, args UpdateNodeArgs) (ChangeResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	patch := domain.NodePatch{
		Title:       args.Title,
		Label:       args.Label,
		Description: args.Description,
		Attributes:  args.Attributes,
	}
	if err := ed.UpdateNode(ctx, args.NodeID, patch); err != nil {
		return ChangeResult{}, err
	}
	return changed(ed, args.NodeID), nil
}

func (s *Server) handleDeleteNode(ctx context.Context, request mcp.CallToolRequest, args NodeArgs) (ChangeResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	if err := ed.DeleteNode(ctx, args.NodeID); err != nil {
		return ChangeResult{}, err
	}
	return changed(ed, ""), nil
}

func (s *Server) handleMoveNode(ctx context.Context, request mcp.CallToolRequest, args MoveNodeArgs) (ChangeResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	index := -1
	if args.Index != nil {
		index = *args.Index
	}
	if err := ed.MoveNode(ctx, args.NodeID, args.ParentID, index); err != nil {
		return ChangeResult{}, err
	}
	return changed(ed, args.NodeID), nil
}

func (s *Server) handleAddQuestion(ctx context.Context, request mcp.CallToolRequest, args QuestionArgs) (ChangeResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	id, err := ed.AddQuestion(ctx, args.ServiceID, args.Config)
	if err != nil {
		return ChangeResult{}, err
	}
	return changed(ed, id), nil
}

func (s *Server) handleUpdateQuestion(ctx context.Context, request mcp.CallToolRequest, args QuestionArgs) (ChangeResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	if err := ed.UpdateQuestion(ctx, args.QuestionID, args.Config); err != nil {
		return ChangeResult{}, err
	}
	return changed(ed, args.QuestionID), nil
}

func (s *Server) handleDeleteQuestion(ctx context.Context, request mcp.CallToolRequest, args QuestionArgs) (ChangeResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	if err := ed.DeleteQuestion(ctx, args.QuestionID); err != nil {
		return ChangeResult{}, err
	}
	return changed(ed, ""), nil
}

func (s *Server) handleReorder(ctx context.Context, request mcp.CallToolRequest, args ReorderArgs) (ChangeResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	if err := ed.ReorderQuestions(ctx, args.ServiceID, args.IDs); err != nil {
		return ChangeResult{}, err
	}
	return changed(ed, ""), nil
}

func (s *Server) handleUndo(ctx context.Context, request mcp.CallToolRequest, args FormArgs) (HistoryResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return HistoryResult{}, err
	}
	if err := ed.Undo(ctx); err != nil {
		return HistoryResult{}, err
	}
	return history(ed), nil
}

func (s *Server) handleRedo(ctx context.Context, request mcp.CallToolRequest, args FormArgs) (HistoryResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return HistoryResult{}, err
	}
	if err := ed.Redo(ctx); err != nil {
		return HistoryResult{}, err
	}
	return history(ed), nil
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest, args FormArgs) (HistoryResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return HistoryResult{}, err
	}
	return history(ed), nil
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest, args FormArgs) (validation.Result, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return validation.Result{}, err
	}
	return ed.Validate(ctx)
}

func (s *Server) handleSave(ctx context.Context, request mcp.CallToolRequest, args FormArgs) (ChangeResult, error) {
	ed, err := s.editor(ctx, args.FormID)
	if err != nil {
		return ChangeResult{}, err
	}
	if err := ed.ForceSave(ctx); err != nil {
		return ChangeResult{}, err
	}
	return changed(ed, ""), nil
}
