package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/chatembed/internal/model"
)

func TestChatStream_RequestShape(t *testing.T) {
	var got map[string]any
	var gotAPIKey, gotAuth, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "anon-key", "")
	rc, err := c.ChatStream(context.Background(), ChatRequest{
		Bot:     model.BotConfig{ID: "bot-1"},
		Message: "hi",
		History: History([]model.Message{{Role: model.RoleUser, Text: "a"}, {Role: model.RoleModel, Text: "b"}}),
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	rc.Close()

	if gotPath != "/functions/v1/chat" {
		t.Errorf("path = %q, want /functions/v1/chat", gotPath)
	}
	if gotAPIKey != "anon-key" || gotAuth != "Bearer anon-key" {
		t.Errorf("headers apikey=%q auth=%q", gotAPIKey, gotAuth)
	}
	if got["action"] != "chat-stream" || got["stream"] != true || got["message"] != "hi" {
		t.Errorf("body = %v", got)
	}
	if _, ok := got["image"]; ok {
		t.Error("image sent without one being attached")
	}

	history, _ := got["history"].([]any)
	if len(history) != 2 {
		t.Fatalf("history = %v", got["history"])
	}
	second, _ := history[1].(map[string]any)
	if second["role"] != "model" {
		t.Errorf("history[1].role = %v, want model", second["role"])
	}
}

func TestHistory_LastTenTurns(t *testing.T) {
	var msgs []model.Message
	for i := range 15 {
		msgs = append(msgs, model.Message{Role: model.RoleUser, Text: fmt.Sprintf("m%d", i)})
	}
	h := History(msgs)
	if len(h) != HistoryTurns {
		t.Fatalf("len = %d, want %d", len(h), HistoryTurns)
	}
	if h[0].Parts[0].Text != "m5" || h[9].Parts[0].Text != "m14" {
		t.Errorf("window = %q..%q, want m5..m14", h[0].Parts[0].Text, h[9].Parts[0].Text)
	}
}

func TestChatStream_StreamsBody(t *testing.T) {
	sseData := "data: {\"text\":\"Hello\"}\n\ndata: {\"text\":\" world\"}\n\ndata: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseData)
	}))
	defer srv.Close()

	c := NewClientWithEndpoint("k", srv.URL)
	rc, err := c.ChatStream(context.Background(), ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != sseData {
		t.Errorf("body = %q, want %q", string(body), sseData)
	}
}

func TestChatStream_ErrorStatusNoRetry(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"slow down"}`)
	}))
	defer srv.Close()

	c := NewClientWithEndpoint("k", srv.URL)
	_, err := c.ChatStream(context.Background(), ChatRequest{Message: "hi"})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Status != http.StatusTooManyRequests || se.Body != `{"error":"slow down"}` {
		t.Errorf("StatusError = %+v", se)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestChatStream_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClientWithEndpoint("k", srv.URL)
	if _, err := c.ChatStream(ctx, ChatRequest{Message: "hi"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestCancelOnClose(t *testing.T) {
	cancelled := false
	rc := &cancelOnClose{ReadCloser: io.NopCloser(nil), cancel: func() { cancelled = true }}
	rc.Close()
	if !cancelled {
		t.Error("Close did not cancel the context")
	}
}
