package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/analytics"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
	"github.com/DavNight89/adminEstate/internal/estate/sync"
)

// envelope is the body of every /api response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// syncResponse is the body of POST /api/sync/{kind}.
type syncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Result  any    `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, envelope{Error: err.Error()})
}

// statusOf maps store errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownKind):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// kindCollection resolves {kind} or writes a 404.
func (s *Server) kindCollection(w http.ResponseWriter, r *http.Request) (schema.Kind, *store.Collection, bool) {
	kind, err := schema.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.fail(w, http.StatusNotFound, err)
		return "", nil, false
	}
	c, err := s.collection(kind)
	if err != nil {
		s.fail(w, statusOf(err), err)
		return "", nil, false
	}
	return kind, c, true
}

func present(kind schema.Kind, records ...schema.Record) []map[string]any {
	sch := schema.MustLookup(kind)
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = sch.JSONObject(r)
	}
	return out
}

func decodeBody(r *http.Request) (map[string]any, error) {
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return body, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := s.kindCollection(w, r)
	if !ok {
		return
	}
	records, err := c.List(r.Context())
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: present(kind, records...)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := s.kindCollection(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	res, err := c.Get(r.Context(), id)
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	if !res.Found() {
		s.fail(w, http.StatusNotFound, errors.New(kind.String()+" "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: present(kind, res.Record())[0]})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := s.kindCollection(w, r)
	if !ok {
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	rec, err := c.Create(r.Context(), body)
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	s.hub.Publish(MessageTypeRecordChange, RecordChangeData{Kind: kind.String(), ID: rec.ID(), Action: "created"})
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Data:    present(kind, rec)[0],
		Message: kind.String() + " record created",
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := s.kindCollection(w, r)
	if !ok {
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	rec, err := c.Update(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	s.hub.Publish(MessageTypeRecordChange, RecordChangeData{Kind: kind.String(), ID: rec.ID(), Action: "updated"})
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: present(kind, rec)[0]})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := s.kindCollection(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := c.Delete(r.Context(), id); err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	s.hub.Publish(MessageTypeRecordChange, RecordChangeData{Kind: kind.String(), ID: id, Action: "deleted"})
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: kind.String() + " " + id + " deleted"})
}

// handleSync reconciles {kind}, or every kind for "all", over the route in
// ?direction= (json-to-csv, csv+json, ...).
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	direction := r.URL.Query().Get("direction")
	if direction == "" {
		direction = DefaultRoute
	}
	route, err := sync.ParseRoute(direction)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, syncResponse{Message: err.Error()})
		return
	}
	rec, req, err := s.Reconciler(r.Context(), route)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, syncResponse{Message: err.Error()})
		return
	}

	if name := chi.URLParam(r, "kind"); strings.EqualFold(name, "all") {
		results, err := rec.ReconcileAll(r.Context(), req)
		resp := syncResponse{Success: err == nil, Result: results, Message: route.String() + ": all kinds reconciled"}
		if err != nil {
			resp.Message = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	kind, err := schema.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, syncResponse{Message: err.Error()})
		return
	}
	req.Kind = kind
	res, err := rec.Reconcile(r.Context(), req)
	if res == nil {
		writeJSON(w, statusOf(err), syncResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Success: res.Success, Message: res.Message, Result: res})
}

// loadAll reads every kind from the served store; unavailable kinds are
// empty.
func (s *Server) loadAll(ctx context.Context) (map[schema.Kind][]schema.Record, error) {
	out := make(map[schema.Kind][]schema.Record, len(schema.Kinds()))
	for _, kind := range schema.Kinds() {
		records, err := store.LoadOrEmpty(ctx, s.config.Store, kind, s.logger)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out[kind] = records
	}
	return out, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	all, err := s.loadAll(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: analytics.Build(all)})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	records, err := store.LoadOrEmpty(r.Context(), s.config.Store, schema.KindProperty, s.logger)
	if err != nil && r.Context().Err() != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: analytics.Analyze(records)})
}

// DefaultChangesLimit is the page size of GET /api/changes without ?limit=.
const DefaultChangesLimit = 50

// handleChanges lists the most recent record changes and sync results,
// oldest first.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	limit := DefaultChangesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.hub.History(limit)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"store":     s.config.Store.Name(),
		"clients":   s.hub.ClientCount(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWebSocket upgrades the connection and sends the current dashboard
// as the welcome message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	welcome := Message{Type: MessageTypeWelcome, Timestamp: time.Now()}
	if all, err := s.loadAll(r.Context()); err == nil {
		if data, err := json.Marshal(analytics.Build(all)); err == nil {
			welcome.Data = data
		}
	}
	s.hub.Serve(conn, welcome)
}
