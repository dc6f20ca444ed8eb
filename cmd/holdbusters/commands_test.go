package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAskFlow(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions": `{"id":"sess-1","saved_corrections":2}`,
		"POST /sessions/sess-1/questions": `{
			"turn": {"role":"assistant","content":"42 invoices are on hold.","sql":"SELECT count(*) FROM invoices"},
			"state": {"conversation_id":"conv-1","feedback_injected":true}
		}`,
	})

	client := ts.client()

	resp, err := client.post(ctx, "/sessions", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var opened struct {
		ID               string `json:"id"`
		SavedCorrections int    `json:"saved_corrections"`
	}
	if err := decodeJSON(resp, &opened); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if opened.ID != "sess-1" || opened.SavedCorrections != 2 {
		t.Errorf("opened = %+v", opened)
	}

	resp, err = client.post(ctx, "/sessions/"+opened.ID+"/questions", map[string]string{
		"question": "How many invoices are on hold?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result struct {
		Turn turnView `json:"turn"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Turn.Content != "42 invoices are on hold." {
		t.Errorf("content = %q", result.Turn.Content)
	}
	if result.Turn.SQL != "SELECT count(*) FROM invoices" {
		t.Errorf("sql = %q", result.Turn.SQL)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	r := ts.requests[1]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["question"] != "How many invoices are on hold?" {
		t.Errorf("body.question = %q", body["question"])
	}
}

func TestAskCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing question")
	}
}

func TestFeedbackAdd(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions/sess-1/corrections": `{
			"turn": {"role":"assistant","content":"Excluding drafts, 30.","is_feedback":true},
			"persisted": true
		}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/sessions/sess-1/corrections", map[string]string{
		"feedback": "exclude draft invoices",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Turn      turnView `json:"turn"`
		Persisted bool     `json:"persisted"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !result.Persisted {
		t.Error("persisted = false")
	}
	if !result.Turn.IsFeedback {
		t.Error("turn not marked as feedback")
	}
}

func TestFeedbackList_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /corrections": `[]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/corrections")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entries []json.RawMessage
	if err := decodeJSON(resp, &entries); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

func TestDecodeJSON_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	client := ts.client()
	resp, err := client.get(ctx, "/nope")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var out any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", err.Error())
	}
}

func TestClient_ServerNotReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := &apiClient{baseURL: srv.URL, httpClient: http.DefaultClient}
	_, err := c.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "is holdbusters running?") {
		t.Errorf("error = %q, want running hint", err.Error())
	}
}

func TestClient_OmitsAuthHeaderWithoutToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	c := &apiClient{baseURL: ts.server.URL, httpClient: ts.server.Client()}
	resp, err := c.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got := ts.requests[0].Auth; got != "" {
		t.Errorf("auth header = %q, want empty", got)
	}
}
