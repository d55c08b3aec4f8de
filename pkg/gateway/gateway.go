// Package gateway is the request/response surface the external orchestrator
// talks to. It speaks a small JSON protocol over any bidirectional channel:
// getEntities, forceRefreshEntities, activateGroup, restoreAll. Handlers are
// safe to call repeatedly — the orchestrator retries on transport failure
// without knowing whether a prior attempt partially succeeded — and no fault
// is ever allowed to escape a handler uncaught.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/germanamz/viewgroups/pkg/engine"
)

// Request is one protocol message from the orchestrator.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the reply to a Request. Exactly one of Result and Error is set.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is a protocol-level error payload.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by responses. Everything not listed here degrades to a
// best-effort partial result instead of an error response.
const (
	CodeInvalidRequest = "InvalidRequest"
	CodeUnknownMethod  = "UnknownMethod"
	CodeGroupNotFound  = "GroupNotFound"
	CodeNotOnHostPage  = "NotOnHostPage"
	CodeSuperseded     = "Superseded"
	CodeInternal       = "Internal"
)

// Handler executes one method with its raw JSON params.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Gateway dispatches protocol requests to the engine.
type Gateway struct {
	eng      *engine.Engine
	handlers map[string]Handler
	metrics  *Metrics
	log      *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics attaches request counters.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the gateway's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// New creates a Gateway over eng with the four protocol methods registered.
func New(eng *engine.Engine, opts ...Option) *Gateway {
	g := &Gateway{eng: eng, log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	g.handlers = map[string]Handler{
		"getEntities":          g.handleGetEntities,
		"forceRefreshEntities": g.handleForceRefresh,
		"activateGroup":        g.handleActivateGroup,
		"restoreAll":           g.handleRestoreAll,
	}
	return g
}

// Methods returns the registered method names, for adapters that re-expose
// the gateway (MCP, HTTP).
func (g *Gateway) Methods() []string {
	out := make([]string, 0, len(g.handlers))
	for name := range g.handlers {
		out = append(out, name)
	}
	return out
}

// Call invokes a method directly, bypassing the wire codec. Adapters use it.
func (g *Gateway) Call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	h, ok := g.handlers[method]
	if !ok {
		return nil, codeErrorf(CodeUnknownMethod, "unknown method %q", method)
	}
	return h(ctx, params)
}

// Handle decodes one raw request, dispatches it, and encodes the response.
// It never fails: malformed input and handler faults all come back as error
// responses, because a fault escaping into the transport (or the host page)
// is the one thing the engine may never do.
func (g *Gateway) Handle(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return g.respond(Request{}, nil, CodeInvalidRequest, "malformed request: "+err.Error())
	}
	if req.Method == "" {
		return g.respond(req, nil, CodeInvalidRequest, "method is required")
	}

	h, ok := g.handlers[req.Method]
	if !ok {
		return g.respond(req, nil, CodeUnknownMethod, fmt.Sprintf("unknown method %q", req.Method))
	}

	result, err := g.safeCall(ctx, req, h)
	if err != nil {
		code, msg := classify(err)
		return g.respond(req, nil, code, msg)
	}
	return g.respond(req, result, "", "")
}

// safeCall shields the transport from handler panics.
func (g *Gateway) safeCall(ctx context.Context, req Request, h Handler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("handler panicked", "method", req.Method, "panic", r)
			err = fmt.Errorf("internal fault: %v", r)
		}
	}()
	return h(ctx, req.Params)
}

func (g *Gateway) respond(req Request, result any, code, msg string) []byte {
	resp := Response{ID: req.ID}
	outcome := "ok"
	if code != "" {
		resp.Error = &Error{Code: code, Message: msg}
		outcome = code
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			resp.Error = &Error{Code: CodeInternal, Message: "encode result: " + err.Error()}
			outcome = CodeInternal
		} else {
			resp.Result = data
		}
	}
	if g.metrics != nil {
		g.metrics.observe(req.Method, outcome)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		// Response with only primitive fields; cannot happen.
		return []byte(`{"error":{"code":"Internal","message":"encode response"}}`)
	}
	return data
}

// codeError carries an explicit protocol code through a handler return.
type codeError struct {
	code string
	msg  string
}

func (e *codeError) Error() string { return e.msg }

func codeErrorf(code, format string, args ...any) error {
	return &codeError{code: code, msg: fmt.Sprintf(format, args...)}
}

// classify maps engine errors onto protocol error codes.
func classify(err error) (code, msg string) {
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code, ce.msg
	}
	switch {
	case errors.Is(err, engine.ErrGroupNotFound):
		return CodeGroupNotFound, err.Error()
	case errors.Is(err, engine.ErrNotOnHostPage):
		return CodeNotOnHostPage, err.Error()
	case errors.Is(err, engine.ErrSuperseded):
		return CodeSuperseded, err.Error()
	default:
		return CodeInternal, err.Error()
	}
}

// --- method handlers ---

// EntitiesResult is the response body of getEntities and
// forceRefreshEntities.
type EntitiesResult struct {
	Entities []EntityInfo `json:"entities"`
}

// EntityInfo is one entity on the wire.
type EntityInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
}

// ActivateParams is the request body of activateGroup.
type ActivateParams struct {
	GroupID   string   `json:"groupId"`
	Selection []string `json:"selection"`
}

// ActivateResult is the response body of activateGroup.
type ActivateResult struct {
	Success     bool    `json:"success"`
	ActiveGroup *string `json:"activeGroup"`
}

// RestoreResult is the response body of restoreAll.
type RestoreResult struct {
	Success bool `json:"success"`
}

func (g *Gateway) handleGetEntities(ctx context.Context, _ json.RawMessage) (any, error) {
	entities, err := g.eng.Entities(ctx)
	if err != nil {
		return nil, err
	}
	return toEntitiesResult(entities), nil
}

func (g *Gateway) handleForceRefresh(ctx context.Context, _ json.RawMessage) (any, error) {
	entities, err := g.eng.ForceRefreshEntities(ctx)
	if err != nil {
		return nil, err
	}
	return toEntitiesResult(entities), nil
}

func (g *Gateway) handleActivateGroup(ctx context.Context, params json.RawMessage) (any, error) {
	var p ActivateParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.GroupID == "" {
		return nil, codeErrorf(CodeInvalidRequest, "groupId is required")
	}
	active, err := g.eng.Activate(ctx, p.GroupID, p.Selection)
	if err != nil {
		return nil, err
	}
	return ActivateResult{Success: true, ActiveGroup: active}, nil
}

func (g *Gateway) handleRestoreAll(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := g.eng.Restore(ctx); err != nil {
		return nil, err
	}
	return RestoreResult{Success: true}, nil
}

func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return codeErrorf(CodeInvalidRequest, "invalid params: %v", err)
	}
	return nil
}

func toEntitiesResult(entities []engine.Entity) EntitiesResult {
	out := EntitiesResult{Entities: make([]EntityInfo, 0, len(entities))}
	for _, e := range entities {
		out.Entities = append(out.Entities, EntityInfo{ID: e.ID, Name: e.Name, Visible: e.Visible})
	}
	return out
}
