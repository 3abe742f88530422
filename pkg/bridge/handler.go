package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"

	"github.com/mingtsay/openclaw/pkg/audit"
	"github.com/mingtsay/openclaw/pkg/auth"
	"github.com/mingtsay/openclaw/pkg/logger"
)

// MaxBodyBytes bounds the request body. Larger bodies abort the connection.
const MaxBodyBytes int64 = 1 << 20

const auditTimeout = 10 * time.Second

// PathFor returns the injection endpoint for a channel.
func PathFor(channel string) string {
	return "/api/" + channel + "/external-messages"
}

// Response is the body of a successful injection.
type Response struct {
	OK        bool  `json:"ok"`
	UpdateID  int   `json:"updateId"`
	MessageID int   `json:"messageId"`
	ChatID    int64 `json:"chatId"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Handler accepts externally observed messages over HTTP and dispatches them
// to the live session registered for the target account.
type Handler struct {
	channel  string
	path     string
	registry *Registry
	builder  *EventBuilder
	audit    audit.Sink
}

type HandlerOption func(*Handler)

// WithAuditSink publishes an entry for every accepted injection.
func WithAuditSink(s audit.Sink) HandlerOption {
	return func(h *Handler) {
		if s != nil {
			h.audit = s
		}
	}
}

func NewHandler(channel string, registry *Registry, ids IDAllocator, opts ...HandlerOption) *Handler {
	h := &Handler{
		channel:  channel,
		path:     PathFor(channel),
		registry: registry,
		builder:  NewEventBuilder(ids),
		audit:    audit.Nop{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Path() string { return h.path }

// Handle serves r if it targets the injection path and reports whether it
// did. Other paths are left for the next handler on the listener.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Path != h.path {
		return false
	}
	h.serve(w, r)
	return true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.Handle(w, r) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	resp, err := h.process(w, r, requestID)
	if err != nil {
		var be *Error
		if !errors.As(err, &be) {
			be = dispatchError(err)
		}
		if be.Status == http.StatusMethodNotAllowed {
			w.Header().Set("Allow", http.MethodPost)
		}
		fields := map[string]any{
			"request_id": requestID,
			"kind":       be.Kind.String(),
			"status":     be.Status,
			"error":      be.Error(),
		}
		if be.Kind == KindDispatch {
			logger.ErrorCF("bridge", "Injected message dispatch failed", fields)
		} else {
			logger.WarnCF("bridge", "Rejected external message", fields)
		}
		writeJSON(w, be.Status, errorResponse{Error: be.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request, requestID string) (Response, error) {
	if r.Method != http.MethodPost {
		return Response{}, errMethodNotAllowed
	}
	if auth.HasQueryCredential(r) {
		return Response{}, errQueryCredential
	}
	token, ok := auth.BearerToken(r)
	if !ok {
		return Response{}, errMissingToken
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return Response{}, errContentType
		}
	}

	body, err := readBody(w, r)
	if err != nil {
		return Response{}, err
	}

	msg, err := ParsePayload(body)
	if err != nil {
		return Response{}, err
	}

	dispatcher, cfg, ok := h.registry.Lookup(msg.AccountID)
	if !ok {
		return Response{}, errNoSession
	}
	if !auth.TokenEqual(token, cfg.Secret) {
		return Response{}, errInvalidToken
	}

	update := h.builder.Build(msg, cfg.Display)

	logger.DebugCF("bridge", "Dispatching external message", map[string]any{
		"request_id": requestID,
		"account_id": msg.AccountID,
		"update_id":  update.UpdateID,
		"chat_id":    msg.ChatID,
		"message_id": msg.MessageID,
	})

	// the client going away must not cancel a dispatch that has started
	ctx := context.WithoutCancel(r.Context())
	if err := dispatch(ctx, dispatcher, update); err != nil {
		return Response{}, dispatchError(err)
	}

	logger.InfoCF("bridge", "Injected external message", map[string]any{
		"request_id": requestID,
		"account_id": msg.AccountID,
		"update_id":  update.UpdateID,
		"chat_id":    msg.ChatID,
	})

	go h.publishAudit(ctx, requestID, msg, update)

	return Response{
		OK:        true,
		UpdateID:  update.UpdateID,
		MessageID: msg.MessageID,
		ChatID:    msg.ChatID,
	}, nil
}

// readBody reads at most MaxBodyBytes. An oversized body aborts the
// connection instead of being drained.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.ContentLength > MaxBodyBytes {
		abortOversized(r)
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			abortOversized(r)
		}
		return nil, parseError(fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func abortOversized(r *http.Request) {
	logger.WarnCF("bridge", "Aborting oversized request", map[string]any{
		"remote_addr":    r.RemoteAddr,
		"content_length": r.ContentLength,
	})
	panic(http.ErrAbortHandler)
}

// dispatch calls the session exactly once and turns a panic into an error.
func dispatch(ctx context.Context, d Dispatcher, update telego.Update) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("dispatch panicked: %v", rec)
		}
	}()
	return d.DispatchUpdate(ctx, update)
}

func (h *Handler) publishAudit(ctx context.Context, requestID string, msg ExternalMessage, update telego.Update) {
	ctx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()

	err := h.audit.Publish(ctx, audit.Entry{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		Channel:    h.channel,
		AccountID:  msg.AccountID,
		UpdateID:   update.UpdateID,
		ChatID:     msg.ChatID,
		MessageID:  msg.MessageID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		At:         time.Now().UTC(),
	})
	if err != nil {
		logger.WarnCF("bridge", "Failed to publish audit entry", map[string]any{
			"request_id": requestID,
			"error":      err.Error(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
