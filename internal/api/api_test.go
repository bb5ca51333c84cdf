package api

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ataleck/sage/internal/engine"
	"github.com/ataleck/sage/internal/extract"
	"github.com/ataleck/sage/internal/memory"
	"github.com/ataleck/sage/internal/pipeline"
	"github.com/ataleck/sage/internal/retrieval"
	"github.com/ataleck/sage/internal/storage"
)

const testToken = "test-token-12345"

// fakeChatter returns a canned reply for chat completions.
type fakeChatter struct {
	response string
	err      error
}

func (f *fakeChatter) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	return f.response, f.err
}

// fakeEmbedder derives a deterministic vector from the text bytes.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i := range v {
		h := fnv.New32a()
		fmt.Fprintf(h, "%d:%s", i, text)
		v[i] = float32(h.Sum32()%1000)/1000 + 0.001
	}
	return v, nil
}

// fakeTextExtractor returns a canned extraction result for the worker.
type fakeTextExtractor struct {
	result extract.Result
	err    error
}

func (f *fakeTextExtractor) Extract(ctx context.Context, text string) (extract.Result, error) {
	return f.result, f.err
}

type testApp struct {
	handler    http.Handler
	store      *storage.Store
	structured memory.Module
	semantic   memory.Module
}

func setupApp(t *testing.T, chatter *fakeChatter, httpClient *http.Client) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	vectors := retrieval.NewSQLiteStore(store.DB())
	episodic := memory.NewEpisodic(store)
	structured := memory.NewStructured(store)
	semantic := memory.NewSemantic(fakeEmbedder{}, vectors)

	if chatter == nil {
		chatter = &fakeChatter{response: "Understood."}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	handler := NewHandler(Deps{
		Store:      store,
		Episodic:   episodic,
		Structured: structured,
		Semantic:   semantic,
		Assembler:  pipeline.NewAssembler(structured, semantic, 3),
		Engine:     chatter,
		ChatModel:  "test-model",
		Token:      testToken,
		HTTPClient: httpClient,
	})
	return &testApp{handler: handler, store: store, structured: structured, semantic: semantic}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (a *testApp) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
}

func TestAuthRequired(t *testing.T) {
	app := setupApp(t, nil, nil)

	for _, token := range []string{"", "wrong-token"} {
		rr := httptest.NewRecorder()
		app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/entities", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rr.Code)
		}
	}
}

func TestChatReturnsReplyAndQueuesExtraction(t *testing.T) {
	app := setupApp(t, &fakeChatter{response: "Good to know about Alice."}, nil)

	rr := app.do(t, http.MethodPost, "/chat", `{"message":"Alice works at Acme Corp as a staff engineer"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp ChatResponse
	decodeBody(t, rr, &resp)
	if resp.Reply != "Good to know about Alice." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if resp.ConversationID == "" {
		t.Error("conversation_id is empty")
	}
	if resp.RunID == "" {
		t.Fatal("run_id is empty, extraction was not queued")
	}

	// Both turns are durable, in order.
	msgs := app.do(t, http.MethodGet, "/conversations/"+resp.ConversationID+"/messages", "")
	var messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	decodeBody(t, msgs, &messages)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].Role != "user" || messages[1].Role != "model" {
		t.Errorf("roles = [%s, %s], want [user, model]", messages[0].Role, messages[1].Role)
	}

	// The pre-created run is visible and still running until the worker picks
	// the job up.
	runRR := app.do(t, http.MethodGet, "/runs/"+resp.RunID, "")
	if runRR.Code != http.StatusOK {
		t.Fatalf("get run status = %d", runRR.Code)
	}
	var run struct {
		Status string `json:"status"`
	}
	decodeBody(t, runRR, &run)
	if run.Status != storage.RunStatusRunning {
		t.Errorf("run status = %q, want running", run.Status)
	}
}

func TestChatExtractionEndToEnd(t *testing.T) {
	app := setupApp(t, &fakeChatter{response: "Noted."}, nil)

	rr := app.do(t, http.MethodPost, "/chat", `{"message":"Alice works at Acme Corp as a staff engineer"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("chat status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp ChatResponse
	decodeBody(t, rr, &resp)

	// Drive the background worker by hand.
	extractor := &fakeTextExtractor{result: extract.Result{
		Entities: []extract.Entity{
			{Name: "Alice", Type: "Person", Details: "staff engineer at Acme Corp"},
			{Name: "Acme Corp", Type: "Company"},
		},
		Knowledge: []string{"Alice works at Acme Corp as a staff engineer"},
	}}
	p := pipeline.NewExtraction(extractor, app.structured, app.semantic, app.store)
	w := pipeline.NewWorker(app.store, p, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("RunOnce = (%v, %v), want (true, nil)", done, err)
	}

	// Run is completed with the summary and three completed steps.
	runRR := app.do(t, http.MethodGet, "/runs/"+resp.RunID, "")
	var run struct {
		Status      string `json:"status"`
		FinalOutput string `json:"final_output"`
		Steps       []struct {
			StepName string `json:"step_name"`
			Status   string `json:"status"`
		} `json:"steps"`
	}
	decodeBody(t, runRR, &run)
	if run.Status != storage.RunStatusCompleted {
		t.Errorf("run status = %q, want completed", run.Status)
	}
	if run.FinalOutput != "Stored 2 entities. Stored 1 knowledge chunks." {
		t.Errorf("final output = %q", run.FinalOutput)
	}
	if len(run.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(run.Steps))
	}

	// Extracted entities are queryable.
	entRR := app.do(t, http.MethodGet, "/entities", "")
	var entities []entityView
	decodeBody(t, entRR, &entities)
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(entities))
	}

	// Extracted knowledge is recallable in a later turn's assembly.
	searchRR := app.do(t, http.MethodGet, "/knowledge/search?q=where+does+Alice+work", "")
	var chunks []struct {
		Text string `json:"text"`
	}
	decodeBody(t, searchRR, &chunks)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "Alice works at Acme Corp as a staff engineer" {
		t.Errorf("chunk = %q", chunks[0].Text)
	}
}

func TestChatMissingMessage(t *testing.T) {
	app := setupApp(t, nil, nil)

	rr := app.do(t, http.MethodPost, "/chat", `{"conversation_id":"c1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestChatEngineFailureDoesNotLoseUserTurn(t *testing.T) {
	app := setupApp(t, &fakeChatter{err: fmt.Errorf("model not loaded")}, nil)

	rr := app.do(t, http.MethodPost, "/chat", `{"conversation_id":"c1","message":"remember this important fact"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}

	msgs := app.do(t, http.MethodGet, "/conversations/c1/messages", "")
	var messages []struct {
		Role string `json:"role"`
	}
	decodeBody(t, msgs, &messages)
	if len(messages) != 1 || messages[0].Role != "user" {
		t.Errorf("messages = %+v, want just the stored user turn", messages)
	}
}

func TestContactsLifecycle(t *testing.T) {
	app := setupApp(t, nil, nil)

	rr := app.do(t, http.MethodPost, "/contacts", `{"name":"Alice Johnson","email":"alice@example.com","company":"Acme"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var contacts []contactView
	decodeBody(t, app.do(t, http.MethodGet, "/contacts?name=alice", ""), &contacts)
	if len(contacts) != 1 {
		t.Fatalf("got %d contacts, want 1", len(contacts))
	}
	if contacts[0].Company != "Acme" {
		t.Errorf("company = %q, want Acme", contacts[0].Company)
	}

	del := app.do(t, http.MethodDelete, "/contacts/"+contacts[0].ID, "")
	if del.Code != http.StatusOK {
		t.Fatalf("delete status = %d", del.Code)
	}
	again := app.do(t, http.MethodDelete, "/contacts/"+contacts[0].ID, "")
	if again.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", again.Code)
	}
}

func TestCreateContactValidation(t *testing.T) {
	app := setupApp(t, nil, nil)

	rr := app.do(t, http.MethodPost, "/contacts", `{"email":"no-name@example.com"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestChatWithMentionedContacts(t *testing.T) {
	app := setupApp(t, &fakeChatter{response: "I'll reach out to Bob."}, nil)

	if rr := app.do(t, http.MethodPost, "/contacts", `{"name":"Bob","email":"bob@example.com"}`); rr.Code != http.StatusOK {
		t.Fatalf("create contact: %d", rr.Code)
	}
	var contacts []contactView
	decodeBody(t, app.do(t, http.MethodGet, "/contacts", ""), &contacts)

	body := fmt.Sprintf(`{"message":"email Bob about the launch plan","contact_ids":[%q]}`, contacts[0].ID)
	rr := app.do(t, http.MethodPost, "/chat", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("chat status = %d; body = %s", rr.Code, rr.Body.String())
	}
}

func TestKnowledgeIngestAndDedup(t *testing.T) {
	app := setupApp(t, nil, nil)

	body := `{"type":"text","content":"The launch review meeting happens every Thursday afternoon"}`
	for i := 0; i < 2; i++ {
		rr := app.do(t, http.MethodPost, "/knowledge", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("ingest %d status = %d; body = %s", i, rr.Code, rr.Body.String())
		}
	}

	var chunks []struct {
		Text string `json:"text"`
	}
	decodeBody(t, app.do(t, http.MethodGet, "/knowledge/search?q=launch+review&limit=10", ""), &chunks)
	if len(chunks) != 1 {
		t.Errorf("got %d chunks, want 1 (identical text deduped)", len(chunks))
	}
}

func TestKnowledgeIngestTooShort(t *testing.T) {
	app := setupApp(t, nil, nil)

	rr := app.do(t, http.MethodPost, "/knowledge", `{"type":"text","content":"too short"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestKnowledgeIngestFromURL(t *testing.T) {
	page := `<html><head><style>body{color:red}</style><script>alert(1)</script></head>` +
		`<body><h1>Release notes</h1><p>Version two ships the new memory backend</p></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	app := setupApp(t, nil, srv.Client())

	rr := app.do(t, http.MethodPost, "/knowledge", fmt.Sprintf(`{"type":"url","url":%q}`, srv.URL))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var chunks []struct {
		Text string `json:"text"`
	}
	decodeBody(t, app.do(t, http.MethodGet, "/knowledge/search?q=memory+backend", ""), &chunks)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if strings.Contains(chunks[0].Text, "alert") || strings.Contains(chunks[0].Text, "color:red") {
		t.Errorf("script/style content leaked into text: %q", chunks[0].Text)
	}
	if !strings.Contains(chunks[0].Text, "Release notes") {
		t.Errorf("visible text missing: %q", chunks[0].Text)
	}
}

func TestGetRunNotFound(t *testing.T) {
	app := setupApp(t, nil, nil)

	rr := app.do(t, http.MethodGet, "/runs/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestDeleteEntityNotFound(t *testing.T) {
	app := setupApp(t, nil, nil)

	rr := app.do(t, http.MethodDelete, "/entities/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}
