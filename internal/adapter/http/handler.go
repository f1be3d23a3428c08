package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"animstream/internal/app/auth"
	"animstream/internal/app/ports"
	"animstream/internal/app/session"
	"animstream/internal/domain/animation"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
)

const (
	defaultAPIKeyHeader    = "X-API-Key"
	defaultSessionName     = "Animation Session"
	sessionDirectoryPrefix = "session:metadata:"
)

// SessionHost routes operations and channel events to the actor owning a session.
type SessionHost interface {
	Fetch(ctx context.Context, sessionID string, req session.Request) (session.Response, error)
	Accept(ctx context.Context, sessionID string, ch session.Channel, clientID string) error
	HandleMessage(ctx context.Context, sessionID string, ch session.Channel, data []byte) error
	HandleClose(ctx context.Context, sessionID string, ch session.Channel) error
	HandleError(ctx context.Context, sessionID string, ch session.Channel, cause error) error
}

type Handler struct {
	Sessions     SessionHost
	Directory    ports.ArchiveStore
	AuthUC       auth.VerifyUseCase
	APIKeyHeader string
	KPI          kpiSnapshotProvider
	Now          func() time.Time
	NewID        func() string
}

func (h Handler) RegisterRoutes(s *server.Hertz) {
	s.Use(corsMiddleware())

	s.GET("/health", h.health)
	s.GET("/ops/kpi", h.kpi)

	s.POST("/api/session", h.createSession)
	s.GET("/api/session", h.listSessions)
	s.Any("/api/session/:id/*path", h.forward)
}

type createSessionRequest struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

type sessionRecord struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	CreatedAt int64            `json:"createdAt"`
	Status    animation.Status `json:"status"`
}

func (h Handler) health(_ context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

type kpiSnapshotProvider interface {
	SnapshotAny() any
}

func (h Handler) kpi(_ context.Context, ctx *app.RequestContext) {
	if h.KPI == nil {
		writeErrorBody(ctx, consts.StatusNotFound, "kpi provider not configured")
		return
	}
	ctx.JSON(consts.StatusOK, h.KPI.SnapshotAny())
}

func (h Handler) createSession(c context.Context, ctx *app.RequestContext) {
	if !h.authenticate(c, ctx) {
		return
	}

	var body createSessionRequest
	if err := decodeJSON(ctx, &body); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid json")
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = defaultSessionName
	}

	id := h.newID()
	info, err := json.Marshal(map[string]any{"name": name, "metadata": body.Metadata})
	if err != nil {
		writeError(ctx, err)
		return
	}
	if _, err := h.Sessions.Fetch(c, id, session.Request{
		Method: consts.MethodPost,
		Path:   "/info",
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   info,
	}); err != nil {
		writeError(ctx, err)
		return
	}

	if h.Directory != nil {
		rec, err := json.Marshal(sessionRecord{ID: id, Name: name, CreatedAt: h.now().UnixMilli(), Status: animation.StatusCreated})
		if err == nil {
			err = h.Directory.Append(c, sessionDirectoryPrefix+id, rec)
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
	}

	ctx.JSON(consts.StatusCreated, createSessionResponse{SessionID: id, Name: name})
}

func (h Handler) listSessions(c context.Context, ctx *app.RequestContext) {
	if !h.authenticate(c, ctx) {
		return
	}

	sessions := make([]sessionRecord, 0)
	if h.Directory != nil {
		records, err := h.Directory.Scan(c, sessionDirectoryPrefix, 0)
		if err != nil {
			writeError(ctx, err)
			return
		}
		for _, r := range records {
			var rec sessionRecord
			if err := json.Unmarshal(r.Value, &rec); err != nil {
				hlog.CtxWarnf(c, "skip malformed session record %s: %v", r.Key, err)
				continue
			}
			sessions = append(sessions, rec)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].CreatedAt > sessions[j].CreatedAt })

	ctx.JSON(consts.StatusOK, map[string]any{"sessions": sessions})
}

func (h Handler) forward(c context.Context, ctx *app.RequestContext) {
	sessionID := ctx.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "Invalid session ID")
		return
	}

	path := "/" + strings.TrimPrefix(ctx.Param("path"), "/")
	if op := operationOf(path); op != "connect" && op != "info" {
		if !h.authenticate(c, ctx) {
			return
		}
	}

	req, err := sessionRequest(ctx, path)
	if err != nil {
		writeError(ctx, err)
		return
	}
	resp, err := h.Sessions.Fetch(c, sessionID, req)
	if err != nil {
		writeError(ctx, err)
		return
	}

	switch {
	case resp.Status == consts.StatusSwitchingProtocols:
		h.upgrade(c, ctx, sessionID, resp.ClientID)
	case resp.Body == nil:
		ctx.SetStatusCode(resp.Status)
	default:
		ctx.JSON(resp.Status, resp.Body)
	}
}

func operationOf(path string) string {
	op, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return op
}

func sessionRequest(ctx *app.RequestContext, path string) (session.Request, error) {
	query, err := url.ParseQuery(string(ctx.Request.URI().QueryString()))
	if err != nil {
		return session.Request{}, fmt.Errorf("%w: malformed query: %v", session.ErrInvalidRequest, err)
	}
	header := http.Header{}
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		header.Add(string(k), string(v))
	})
	return session.Request{
		Method: string(ctx.Method()),
		Path:   path,
		Query:  query,
		Header: header,
		Body:   append([]byte(nil), ctx.Request.Body()...),
	}, nil
}

// authenticate writes a 401 and returns false when the request carries no
// acceptable credentials.
func (h Handler) authenticate(c context.Context, ctx *app.RequestContext) bool {
	header := h.APIKeyHeader
	if header == "" {
		header = defaultAPIKeyHeader
	}
	_, err := h.AuthUC.Execute(c, auth.VerifyRequest{
		APIKey:        string(ctx.GetHeader(header)),
		Authorization: string(ctx.GetHeader("Authorization")),
	})
	if err != nil {
		writeErrorBody(ctx, consts.StatusUnauthorized, "Unauthorized")
		return false
	}
	return true
}

func (h Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h Handler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

func decodeJSON(ctx *app.RequestContext, out any) error {
	body := ctx.Request.Body()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func writeError(ctx *app.RequestContext, err error) {
	switch {
	case errors.Is(err, session.ErrOperationNotFound):
		writeErrorBody(ctx, consts.StatusNotFound, "Not found")
	case errors.Is(err, session.ErrMethodNotAllowed):
		writeErrorBody(ctx, consts.StatusMethodNotAllowed, "Method not allowed")
	case errors.Is(err, session.ErrEntityNotFound),
		errors.Is(err, session.ErrMetadataKeyNotFound),
		errors.Is(err, ports.ErrNotFound):
		writeErrorBody(ctx, consts.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, session.ErrInvalidStatus),
		errors.Is(err, session.ErrUpgradeRequired),
		errors.Is(err, animation.ErrInvalidEntity),
		errors.Is(err, animation.ErrInvalidCommand):
		writeErrorBody(ctx, consts.StatusBadRequest, err.Error())
	case errors.Is(err, ports.ErrConflict):
		writeErrorBody(ctx, consts.StatusConflict, err.Error())
	case errors.Is(err, session.ErrShuttingDown):
		writeErrorBody(ctx, consts.StatusServiceUnavailable, err.Error())
	default:
		writeErrorBody(ctx, consts.StatusInternalServerError, err.Error())
	}
}

func writeErrorBody(ctx *app.RequestContext, status int, message string) {
	ctx.JSON(status, map[string]string{"error": message})
}
