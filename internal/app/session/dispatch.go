package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"animstream/internal/domain/animation"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const ClientIDHeader = "X-Client-ID"

// Request is one operation addressed to a session. Path is relative to the
// session, e.g. "/characters/abc".
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response carries a JSON-encodable Body. ClientID is set for an accepted
// channel upgrade (Status 101).
type Response struct {
	Status   int
	Body     any
	ClientID string
}

func ok(body any) (Response, error)      { return Response{Status: http.StatusOK, Body: body}, nil }
func created(body any) (Response, error) { return Response{Status: http.StatusCreated, Body: body}, nil }

type handlerFunc func(ctx context.Context, req Request, rest []string) (Response, error)

func (a *Actor) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"connect":    a.handleConnect,
		"info":       a.handleInfo,
		"state":      a.handleState,
		"characters": a.handleCharacters,
		"status":     a.handleStatus,
		"metadata":   a.handleMetadata,
		"logs":       a.handleLogs,
		"history":    a.handleHistory,
	}
}

// Fetch is the request entry point. Unexpected failures are recorded as an
// API_ERROR log entry before being returned.
func (a *Actor) Fetch(ctx context.Context, req Request) (Response, error) {
	ctx, span := a.deps.Tracer.Start(ctx, "session.fetch", trace.WithAttributes(
		sessionAttr(a.id),
		attribute.String("request.method", req.Method),
		attribute.String("request.path", req.Path),
	))
	defer span.End()

	release, err := a.enter(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	defer release()
	a.touchUsage()

	segs := splitPath(req.Path)
	h, found := a.routes()[segs[0]]
	if !found {
		return Response{}, fmt.Errorf("%w: %s", ErrOperationNotFound, req.Path)
	}
	resp, err := h(ctx, req, segs[1:])
	if err == nil {
		return resp, nil
	}
	if !IsClassified(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		hlog.CtxErrorf(ctx, "session %s %s %s: %v", a.id, req.Method, req.Path, err)
		a.execBestEffort(ctx, func() {
			a.recordError(ctx, LogAPIError, err, map[string]any{"method": req.Method, "path": req.Path})
		})
	}
	return Response{}, err
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return []string{""}
	}
	return strings.Split(p, "/")
}

func (a *Actor) handleConnect(_ context.Context, req Request, _ []string) (Response, error) {
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return Response{}, ErrUpgradeRequired
	}
	clientID := strings.TrimSpace(req.Header.Get(ClientIDHeader))
	if clientID == "" {
		clientID = a.deps.NewID()
	}
	return Response{Status: http.StatusSwitchingProtocols, ClientID: clientID}, nil
}

type infoUpdate struct {
	Name     *string        `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (a *Actor) handleInfo(ctx context.Context, req Request, rest []string) (Response, error) {
	if len(rest) > 0 {
		return Response{}, ErrOperationNotFound
	}
	var out animation.Session
	switch req.Method {
	case http.MethodGet:
		out = a.session.Clone()
	case http.MethodPost:
		var body infoUpdate
		if err := decodeBody(req.Body, &body); err != nil {
			return Response{}, err
		}
		err := a.exec(ctx, func() error {
			if body.Name != nil && strings.TrimSpace(*body.Name) != "" {
				a.session.Name = strings.TrimSpace(*body.Name)
			}
			a.session.MergeMetadata(body.Metadata)
			a.mutated()
			out = a.session.Clone()
			return nil
		})
		if err != nil {
			return Response{}, err
		}
	default:
		return Response{}, ErrMethodNotAllowed
	}
	return ok(out)
}

func (a *Actor) handleState(_ context.Context, req Request, rest []string) (Response, error) {
	if len(rest) > 0 {
		return Response{}, ErrOperationNotFound
	}
	if req.Method != http.MethodGet {
		return Response{}, ErrMethodNotAllowed
	}
	return ok(a.state())
}

func (a *Actor) handleCharacters(ctx context.Context, req Request, rest []string) (Response, error) {
	switch len(rest) {
	case 0:
		switch req.Method {
		case http.MethodGet:
			return ok(a.sortedEntities())
		case http.MethodPost:
			var patch animation.EntityPatch
			if err := decodeBody(req.Body, &patch); err != nil {
				return Response{}, err
			}
			var out animation.Entity
			err := a.exec(ctx, func() error {
				var err error
				out, err = a.addEntity(ctx, patch)
				return err
			})
			if err != nil {
				return Response{}, err
			}
			return created(out)
		default:
			return Response{}, ErrMethodNotAllowed
		}
	case 1:
	default:
		return Response{}, ErrOperationNotFound
	}

	id := rest[0]
	switch req.Method {
	case http.MethodGet:
		out, found := a.entities[id]
		if !found {
			return Response{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		return ok(out)
	case http.MethodPut:
		var patch animation.EntityPatch
		if err := decodeBody(req.Body, &patch); err != nil {
			return Response{}, err
		}
		var out animation.Entity
		err := a.exec(ctx, func() error {
			var err error
			out, err = a.updateEntity(ctx, id, patch)
			return err
		})
		if err != nil {
			return Response{}, err
		}
		return ok(out)
	case http.MethodDelete:
		if err := a.exec(ctx, func() error { return a.removeEntity(ctx, id) }); err != nil {
			return Response{}, err
		}
		return Response{Status: http.StatusNoContent}, nil
	default:
		return Response{}, ErrMethodNotAllowed
	}
}

func (a *Actor) handleStatus(ctx context.Context, req Request, rest []string) (Response, error) {
	if len(rest) > 0 {
		return Response{}, ErrOperationNotFound
	}
	switch req.Method {
	case http.MethodGet:
		return ok(statusPayload{Status: a.session.Status})
	case http.MethodPost:
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(req.Body, &body); err != nil {
			return Response{}, err
		}
		st, valid := animation.ParseStatus(body.Status)
		if !valid {
			return Response{}, fmt.Errorf("%w: %q", ErrInvalidStatus, body.Status)
		}
		err := a.exec(ctx, func() error {
			prev := a.session.Status
			a.session.Status = st
			a.mutated()
			a.record(ctx, LogStatusChanged, fmt.Sprintf("Session status changed from %s to %s", prev, st), nil)
			a.broadcast(MessageSessionStatus, statusPayload{Status: st}, nil)
			return nil
		})
		if err != nil {
			return Response{}, err
		}
		return ok(statusPayload{Status: st})
	default:
		return Response{}, ErrMethodNotAllowed
	}
}

func (a *Actor) handleMetadata(ctx context.Context, req Request, rest []string) (Response, error) {
	if len(rest) > 0 {
		return Response{}, ErrOperationNotFound
	}
	switch req.Method {
	case http.MethodGet:
		return ok(a.session.Clone().Metadata)
	case http.MethodPost, http.MethodPut:
		var patch map[string]any
		if err := json.Unmarshal(req.Body, &patch); err != nil || patch == nil {
			return Response{}, fmt.Errorf("%w: invalid metadata: must be an object", ErrInvalidRequest)
		}
		var out map[string]any
		err := a.exec(ctx, func() error {
			a.session.MergeMetadata(patch)
			a.mutated()
			out = a.session.Clone().Metadata
			a.broadcast(MessageSessionStatus, metadataPayload{Metadata: out}, nil)
			return nil
		})
		if err != nil {
			return Response{}, err
		}
		return ok(out)
	case http.MethodDelete:
		key := req.Query.Get("key")
		if key == "" {
			return Response{}, fmt.Errorf("%w: missing metadata key parameter", ErrInvalidRequest)
		}
		err := a.exec(ctx, func() error {
			if _, found := a.session.Metadata[key]; !found {
				return fmt.Errorf("%w: metadata key %q not found", ErrMetadataKeyNotFound, key)
			}
			delete(a.session.Metadata, key)
			a.mutated()
			return nil
		})
		if err != nil {
			return Response{}, err
		}
		return ok(map[string]string{"deleted": key})
	default:
		return Response{}, ErrMethodNotAllowed
	}
}

func (a *Actor) handleLogs(ctx context.Context, req Request, rest []string) (Response, error) {
	if len(rest) > 0 {
		return Response{}, ErrOperationNotFound
	}
	if req.Method != http.MethodGet {
		return Response{}, ErrMethodNotAllowed
	}
	limit, archived, err := listQuery(req.Query)
	if err != nil {
		return Response{}, err
	}
	f := animation.LogFilter{Type: req.Query.Get("type"), Limit: limit}
	if archived {
		out, err := a.scanLogs(ctx, f)
		if err != nil {
			return Response{}, err
		}
		return ok(out)
	}
	return ok(animation.SelectLogs(a.logs.Items(), f))
}

func (a *Actor) handleHistory(ctx context.Context, req Request, rest []string) (Response, error) {
	if len(rest) > 0 {
		return Response{}, ErrOperationNotFound
	}
	if req.Method != http.MethodGet {
		return Response{}, ErrMethodNotAllowed
	}
	limit, archived, err := listQuery(req.Query)
	if err != nil {
		return Response{}, err
	}
	f := animation.CommandFilter{EntityID: req.Query.Get("characterId"), Limit: limit}
	if archived {
		out, err := a.scanCommands(ctx, f)
		if err != nil {
			return Response{}, err
		}
		return ok(out)
	}
	return ok(animation.SelectCommands(a.history.Items(), f))
}

func listQuery(q url.Values) (int, bool, error) {
	limit := animation.DefaultQueryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return 0, false, fmt.Errorf("%w: invalid limit %q", ErrInvalidRequest, raw)
		}
		limit = n
	}
	return limit, q.Get("archived") == "true", nil
}

func decodeBody(body []byte, out any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: malformed body: %v", ErrInvalidRequest, err)
	}
	return nil
}

func sessionAttr(id string) attribute.KeyValue {
	return attribute.String("session.id", id)
}
