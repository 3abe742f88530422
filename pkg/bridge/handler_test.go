package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mingtsay/openclaw/pkg/audit"
)

const (
	testSecret  = "s3cret"
	examplePath = "/api/telegram/external-messages"
	exampleBody = `{"chatId":-5001,"messageId":42,"senderName":"Ana","senderUsername":"ana_x","senderId":555,"text":"hi","timestamp":1700000000}`
)

type recordingSink struct {
	entries chan audit.Entry
	err     error
}

func (s *recordingSink) Publish(_ context.Context, e audit.Entry) error {
	s.entries <- e
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func newTestHandler(t *testing.T, opts ...HandlerOption) (*Handler, *Registry, *fakeDispatcher) {
	t.Helper()
	reg := NewRegistry()
	d := &fakeDispatcher{}
	require.NoError(t, reg.Register("default", d, Config{Secret: testSecret, HistoryLimit: 50}))
	return NewHandler("telegram", reg, NewNegativeCounter(), opts...), reg, d
}

func post(h http.Handler, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandler_ExamplePayload(t *testing.T) {
	h, _, d := newTestHandler(t)

	w := post(h, examplePath, exampleBody, bearer(testSecret))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(42), body["messageId"])
	assert.Equal(t, float64(-5001), body["chatId"])
	assert.Equal(t, float64(-1), body["updateId"])

	calls := d.calls()
	require.Len(t, calls, 1)
	m := calls[0].Message
	require.NotNil(t, m)
	assert.Equal(t, "hi", m.Text)
	assert.Equal(t, int64(-5001), m.Chat.ID)
	assert.Equal(t, telego.ChatTypeGroup, m.Chat.Type)
	assert.Equal(t, int64(555), m.From.ID)
	assert.Equal(t, "ana_x", m.From.Username)
}

func TestHandler_CustomTokenHeader(t *testing.T) {
	h, _, d := newTestHandler(t)
	w := post(h, examplePath, exampleBody, map[string]string{"X-OpenClaw-Token": testSecret})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, d.calls(), 1)
}

func TestHandler_MissingRequiredFieldsNeverDispatch(t *testing.T) {
	for _, field := range []string{"chatId", "messageId", "senderName", "text", "timestamp"} {
		t.Run(field, func(t *testing.T) {
			h, _, d := newTestHandler(t)

			var payload map[string]any
			require.NoError(t, json.Unmarshal([]byte(exampleBody), &payload))
			delete(payload, field)
			raw, err := json.Marshal(payload)
			require.NoError(t, err)

			w := post(h, examplePath, string(raw), bearer(testSecret))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, ErrInvalidPayload.Message, body["error"])
			assert.Empty(t, d.calls())
		})
	}
}

func TestHandler_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		ctype   string
		body    string
		headers map[string]string
		status  int
		errText string
	}{
		{"wrong method", http.MethodGet, examplePath, "", "", bearer(testSecret), http.StatusMethodNotAllowed, "method not allowed"},
		{"query token", http.MethodPost, examplePath + "?token=" + testSecret, "application/json", exampleBody, bearer(testSecret), http.StatusBadRequest, "not the URL"},
		{"query secret", http.MethodPost, examplePath + "?secret=x", "application/json", exampleBody, bearer(testSecret), http.StatusBadRequest, "not the URL"},
		{"missing token", http.MethodPost, examplePath, "application/json", exampleBody, nil, http.StatusUnauthorized, "missing token"},
		{"invalid token", http.MethodPost, examplePath, "application/json", exampleBody, bearer("guess"), http.StatusUnauthorized, "invalid token"},
		{"malformed json", http.MethodPost, examplePath, "application/json", `{"chatId":`, bearer(testSecret), http.StatusBadRequest, "invalid JSON body"},
		{"wrong content type", http.MethodPost, examplePath, "text/plain", exampleBody, bearer(testSecret), http.StatusBadRequest, "content type"},
		{"unknown account", http.MethodPost, examplePath, "application/json", strings.Replace(exampleBody, `"text"`, `"accountId":"work","text"`, 1), bearer(testSecret), http.StatusServiceUnavailable, "no live session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, d := newTestHandler(t)

			r := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.ctype != "" {
				r.Header.Set("Content-Type", tt.ctype)
			}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, tt.status, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, false, body["ok"])
			assert.Contains(t, body["error"], tt.errText)
			assert.Empty(t, d.calls())
		})
	}
}

func TestHandler_MethodNotAllowedSetsAllow(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPut, examplePath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
}

func TestHandler_DeclinesOtherPaths(t *testing.T) {
	h, _, d := newTestHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/discord/external-messages", strings.NewReader(exampleBody))

	assert.False(t, h.Handle(w, r))
	assert.Zero(t, w.Body.Len())
	assert.Empty(t, d.calls())
}

func TestHandler_UnregisterReturnsUnavailable(t *testing.T) {
	h, reg, d := newTestHandler(t)

	require.Equal(t, http.StatusOK, post(h, examplePath, exampleBody, bearer(testSecret)).Code)
	reg.Unregister("default")

	w := post(h, examplePath, exampleBody, bearer(testSecret))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Len(t, d.calls(), 1)
}

func TestHandler_SecretIsPerAccount(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	work := &fakeDispatcher{}
	require.NoError(t, reg.Register("work", work, Config{Secret: "work-secret"}))

	workBody := strings.Replace(exampleBody, `"text"`, `"accountId":"work","text"`, 1)

	w := post(h, examplePath, workBody, bearer(testSecret))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(h, examplePath, workBody, bearer("work-secret"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, work.calls(), 1)
}

func TestHandler_DispatchErrorIsNotRetried(t *testing.T) {
	h, _, d := newTestHandler(t)
	d.err = errors.New("agent unavailable")

	w := post(h, examplePath, exampleBody, bearer(testSecret))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "agent unavailable", body["error"])
	assert.Len(t, d.calls(), 1)
}

func TestHandler_DispatchPanicBecomes500(t *testing.T) {
	h, _, d := newTestHandler(t)
	d.panics = "boom"

	w := post(h, examplePath, exampleBody, bearer(testSecret))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "boom")
}

func TestHandler_DispatchSurvivesClientCancel(t *testing.T) {
	h, _, d := newTestHandler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodPost, examplePath, strings.NewReader(exampleBody)).WithContext(ctx)
	r.Header.Set("Authorization", "Bearer "+testSecret)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, d.ctxErrs, 1)
	assert.NoError(t, d.ctxErrs[0])
}

func TestHandler_OversizedBodyAborts(t *testing.T) {
	big := `{"text":"` + strings.Repeat("a", int(MaxBodyBytes)) + `"}`

	t.Run("declared length", func(t *testing.T) {
		h, _, d := newTestHandler(t)
		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			post(h, examplePath, big, bearer(testSecret))
		})
		assert.Empty(t, d.calls())
	})

	t.Run("streamed", func(t *testing.T) {
		h, _, d := newTestHandler(t)
		// hide the reader type so no Content-Length is derived
		r := httptest.NewRequest(http.MethodPost, examplePath, struct{ io.Reader }{strings.NewReader(big)})
		r.ContentLength = -1
		r.Header.Set("Authorization", "Bearer "+testSecret)
		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			h.ServeHTTP(httptest.NewRecorder(), r)
		})
		assert.Empty(t, d.calls())
	})

	t.Run("over the wire", func(t *testing.T) {
		h, _, d := newTestHandler(t)
		srv := httptest.NewServer(h)
		defer srv.Close()

		req, err := http.NewRequest(http.MethodPost, srv.URL+examplePath, bytes.NewReader([]byte(big)))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+testSecret)
		resp, err := srv.Client().Do(req)
		if err == nil {
			resp.Body.Close()
		}
		assert.Error(t, err)
		assert.Empty(t, d.calls())
	})
}

func TestHandler_ConcurrentInjectionsGetUniqueIDs(t *testing.T) {
	h, _, d := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	const n = 40
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, srv.URL+examplePath, strings.NewReader(exampleBody))
			req.Header.Set("Authorization", "Bearer "+testSecret)
			resp, err := srv.Client().Do(req)
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	calls := d.calls()
	require.Len(t, calls, n)
	seen := map[int]bool{}
	for _, u := range calls {
		assert.Less(t, u.UpdateID, 0)
		assert.False(t, seen[u.UpdateID])
		seen[u.UpdateID] = true
	}
}

func TestHandler_PublishesAuditEntry(t *testing.T) {
	sink := &recordingSink{entries: make(chan audit.Entry, 1), err: errors.New("broker down")}
	h, _, _ := newTestHandler(t, WithAuditSink(sink))

	w := post(h, examplePath, exampleBody, bearer(testSecret))
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case e := <-sink.entries:
		assert.Equal(t, "telegram", e.Channel)
		assert.Equal(t, "default", e.AccountID)
		assert.Equal(t, int64(-5001), e.ChatID)
		assert.Equal(t, 42, e.MessageID)
		assert.Equal(t, -1, e.UpdateID)
		assert.NotEmpty(t, e.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("audit entry not published")
	}
}

func TestHandler_NoAuditOnRejection(t *testing.T) {
	sink := &recordingSink{entries: make(chan audit.Entry, 1)}
	h, _, _ := newTestHandler(t, WithAuditSink(sink))

	post(h, examplePath, exampleBody, bearer("wrong"))

	select {
	case <-sink.entries:
		t.Fatal("unexpected audit entry")
	case <-time.After(50 * time.Millisecond):
	}
}
