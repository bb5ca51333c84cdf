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

func TestChatRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chat": `{"conversation_id":"conv-1","reply":"Noted.","run_id":"run-1"}`,
	})

	client := ts.client()

	resp, err := client.post(ctx, "/chat", map[string]any{
		"message":         "Alice works at Acme",
		"conversation_id": "conv-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		ConversationID string `json:"conversation_id"`
		Reply          string `json:"reply"`
		RunID          string `json:"run_id"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result.Reply != "Noted." {
		t.Errorf("reply = %q", result.Reply)
	}
	if result.RunID != "run-1" {
		t.Errorf("run_id = %q", result.RunID)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["message"] != "Alice works at Acme" {
		t.Errorf("body.message = %v", body["message"])
	}
	if body["conversation_id"] != "conv-1" {
		t.Errorf("body.conversation_id = %v", body["conversation_id"])
	}
}

func TestChatCommand_MissingMessage(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"chat"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestIngestRequest_Text(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /knowledge": `{"status":"stored"}`,
	})

	client := ts.client()

	resp, err := client.post(ctx, "/knowledge", map[string]any{
		"type":    "text",
		"content": "The staging cluster lives in eu-west-1",
		"tags":    []string{"infra"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "stored" {
		t.Errorf("status = %q, want stored", result["status"])
	}
}

func TestRecallRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /knowledge/search": `[{"id":"k1","text":"Alice works at Acme","score":0.91}]`,
	})

	client := ts.client()

	resp, err := client.get(ctx, "/knowledge/search?q=where+does+alice+work&limit=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var results []struct {
		ID    string  `json:"id"`
		Text  string  `json:"text"`
		Score float32 `json:"score"`
	}
	if err := decodeJSON(resp, &results); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "k1" {
		t.Errorf("results = %+v", results)
	}

	if got := ts.requests[0].Path; !strings.Contains(got, "q=where+does+alice+work") {
		t.Errorf("path = %q, query not forwarded", got)
	}
}

func TestContactDeleteNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()

	resp, err := client.delete(ctx, "/contacts/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", err.Error())
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "hello")
	if strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorGreen, "hello")
	if !strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestCountLabel(t *testing.T) {
	if got := countLabel(5, 100); got != "5" {
		t.Errorf("countLabel(5, 100) = %q", got)
	}
	if got := countLabel(100, 100); got != "100+" {
		t.Errorf("countLabel(100, 100) = %q", got)
	}
}
