package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/calliope-chat/calliope/internal/artifact"
	"github.com/calliope-chat/calliope/internal/auth"
	"github.com/calliope-chat/calliope/internal/events"
	"github.com/calliope-chat/calliope/internal/history"
	"github.com/calliope-chat/calliope/internal/state"
	"github.com/calliope-chat/calliope/internal/testutil"
	"github.com/calliope-chat/calliope/internal/turn"
)

type fakeGateway struct {
	transcription string
	completion    string
	audio         []byte
	completeErr   error
}

func (f *fakeGateway) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	return f.transcription, nil
}

func (f *fakeGateway) Complete(ctx context.Context, prompt string) (string, error) {
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.completion, nil
}

func (f *fakeGateway) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.audio, nil
}

type testServer struct {
	client *http.Client
	gw     *fakeGateway
	bus    *events.Bus
	files  *artifact.FS
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	db, closeFn := testutil.OpenTestDB(t)
	store := state.NewStore(db)
	files, err := artifact.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("artifact fs: %v", err)
	}
	bus := events.NewBus()
	gw := &fakeGateway{}
	tokens := auth.NewTokens("test-secret", time.Hour)

	h := &Handler{
		Log:       zerolog.Nop(),
		Store:     store,
		Artifacts: files,
		Coordinator: &turn.Coordinator{
			Store:     store,
			Artifacts: files,
			Pipeline:  &turn.Pipeline{Gateway: gw},
			Bus:       bus,
			Log:       zerolog.Nop(),
		},
		Tokens: tokens,
		Bus:    bus,
	}
	client := testutil.NewInProcessClient(h.NewRouter())
	return &testServer{client: client, gw: gw, bus: bus, files: files}, closeFn
}

func (ts *testServer) do(t *testing.T, method, path, token string, payload any) *http.Response {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	req := testutil.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSONResponse(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	data, err := testutil.ReadAll(resp)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
}

func (ts *testServer) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/register", "", map[string]string{
		"username": username, "email": username + "@example.com", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/login", "", map[string]string{
		"username": username, "password": "s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	decodeJSONResponse(t, resp, &login)
	if login.AccessToken == "" {
		t.Fatal("empty access token")
	}
	return login.AccessToken
}

func (ts *testServer) createAgentAndChat(t *testing.T, token string) (state.Agent, state.Chat) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/agents", token, map[string]string{
		"name": "Football Expert", "system_prompt": "You know football.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create agent: status %d", resp.StatusCode)
	}
	var agent state.Agent
	decodeJSONResponse(t, resp, &agent)

	resp = ts.do(t, http.MethodPost, "/chats", token, map[string]string{
		"agent_id": agent.ID, "name": "Match Talk",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create chat: status %d", resp.StatusCode)
	}
	var chat state.Chat
	decodeJSONResponse(t, resp, &chat)
	return agent, chat
}

func TestRegisterLoginMe(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()

	token := ts.registerAndLogin(t, "ada")

	resp := ts.do(t, http.MethodPost, "/register", "", map[string]string{
		"username": "ada", "email": "other@example.com", "password": "x",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate username: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/login", "", map[string]string{
		"username": "ada", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/users/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d", resp.StatusCode)
	}
	var me state.User
	decodeJSONResponse(t, resp, &me)
	if me.Username != "ada" || me.Email != "ada@example.com" {
		t.Fatalf("unexpected user %+v", me)
	}
}

func TestRequiresAuth(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()

	resp := ts.do(t, http.MethodGet, "/agents", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/agents", "garbage", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAgentCRUD(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()
	token := ts.registerAndLogin(t, "ada")

	resp := ts.do(t, http.MethodPost, "/agents", token, map[string]string{
		"name": "Geography Expert", "system_prompt": "You know maps.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	var agent state.Agent
	decodeJSONResponse(t, resp, &agent)

	resp = ts.do(t, http.MethodPost, "/agents", token, map[string]string{
		"name": "Geography Expert", "system_prompt": "Another",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate name: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodPut, "/agents/"+agent.ID, token, map[string]string{
		"name": "Maps Expert", "system_prompt": "Updated.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status %d", resp.StatusCode)
	}
	var updated state.Agent
	decodeJSONResponse(t, resp, &updated)
	if updated.Name != "Maps Expert" {
		t.Fatalf("rename not applied: %+v", updated)
	}

	resp = ts.do(t, http.MethodGet, "/agents", token, nil)
	var agents []state.Agent
	decodeJSONResponse(t, resp, &agents)
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}

	resp = ts.do(t, http.MethodDelete, "/agents/"+agent.ID, token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/agents/"+agent.ID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestChatOwnershipAcrossUsers(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()

	adaToken := ts.registerAndLogin(t, "ada")
	graceToken := ts.registerAndLogin(t, "grace")
	_, chat := ts.createAgentAndChat(t, adaToken)

	// Someone else's chat is indistinguishable from a missing one.
	resp := ts.do(t, http.MethodGet, "/chats/"+chat.ID, graceToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign chat: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/chats/"+chat.ID, adaToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner chat: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTextTurnFlow(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()
	token := ts.registerAndLogin(t, "ada")
	_, chat := ts.createAgentAndChat(t, token)

	ts.gw.completion = "Real Madrid won in 2014."
	resp := ts.do(t, http.MethodPost, "/send", token, map[string]string{
		"chat_id": chat.ID, "text": "Who won the UCL in 2014?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send: status %d", resp.StatusCode)
	}
	var reply replyResponse
	decodeJSONResponse(t, resp, &reply)
	if reply.Sender != "agent" || reply.IsAudio || reply.Text != "Real Madrid won in 2014." {
		t.Fatalf("unexpected reply %+v", reply)
	}

	resp = ts.do(t, http.MethodGet, "/chats/"+chat.ID+"/messages", token, nil)
	var page []history.PageItem
	decodeJSONResponse(t, resp, &page)
	if len(page) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page))
	}
	if page[0].Sender != "user" || page[0].Text != "Who won the UCL in 2014?" {
		t.Fatalf("user message wrong: %+v", page[0])
	}
	if page[1].Sender != "agent" || page[1].ID != reply.ID {
		t.Fatalf("agent message wrong: %+v", page[1])
	}
}

func TestTurnFailureKeepsUserMessageVisible(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()
	token := ts.registerAndLogin(t, "ada")
	_, chat := ts.createAgentAndChat(t, token)

	ts.gw.completeErr = errors.New("provider down")
	resp := ts.do(t, http.MethodPost, "/send", token, map[string]string{
		"chat_id": chat.ID, "text": "Hello?",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("failed turn: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/chats/"+chat.ID+"/messages", token, nil)
	var page []history.PageItem
	decodeJSONResponse(t, resp, &page)
	if len(page) != 1 || page[0].Sender != "user" {
		t.Fatalf("user message must stay visible after a failed turn: %+v", page)
	}
}

func TestSendValidation(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()
	token := ts.registerAndLogin(t, "ada")
	_, chat := ts.createAgentAndChat(t, token)

	resp := ts.do(t, http.MethodPost, "/send", token, map[string]string{"chat_id": chat.ID})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("neither text nor audio: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/send", token, map[string]string{
		"chat_id": chat.ID, "text": "hi", "audio": "some-id",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("both text and audio: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func (ts *testServer) uploadWAV(t *testing.T, token, chatID, filename string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := testutil.NewRequest(http.MethodPost, fmt.Sprintf("/chats/%s/upload-audio", chatID), buf.Bytes())
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func TestAudioTurnFlow(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()
	token := ts.registerAndLogin(t, "ada")
	_, chat := ts.createAgentAndChat(t, token)

	resp := ts.uploadWAV(t, token, chat.ID, "question.mp3", []byte("not wav"))
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("non-WAV upload: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.uploadWAV(t, token, chat.ID, "question.wav", []byte("wav bytes"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: status %d", resp.StatusCode)
	}
	var upload struct {
		MessageID string `json:"message_id"`
	}
	decodeJSONResponse(t, resp, &upload)

	ts.gw.transcription = "Who won the UCL in 2014?"
	ts.gw.completion = "Real Madrid won in 2014."
	ts.gw.audio = []byte("mp3 bytes")

	resp = ts.do(t, http.MethodPost, "/send", token, map[string]string{
		"chat_id": chat.ID, "audio": upload.MessageID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audio send: status %d", resp.StatusCode)
	}
	var reply replyResponse
	decodeJSONResponse(t, resp, &reply)
	if !reply.IsAudio {
		t.Fatalf("expected an audio reply: %+v", reply)
	}
	if reply.Text != "" {
		t.Fatalf("audio reply must not expose text, got %q", reply.Text)
	}

	resp = ts.do(t, http.MethodGet, "/messages/"+reply.ID+"/download", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download reply: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("reply content type %q", ct)
	}
	data, _ := testutil.ReadAll(resp)
	if string(data) != "mp3 bytes" {
		t.Fatalf("reply audio %q", data)
	}

	resp = ts.do(t, http.MethodGet, "/messages/"+upload.MessageID+"/download", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download upload: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("upload content type %q", ct)
	}
	resp.Body.Close()

	// Audio messages show empty text in the page window even though the
	// transcription is stored.
	resp = ts.do(t, http.MethodGet, "/chats/"+chat.ID+"/messages", token, nil)
	var page []history.PageItem
	decodeJSONResponse(t, resp, &page)
	if len(page) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page))
	}
	if !page[0].IsAudio || page[0].Text != "" {
		t.Fatalf("upload row wrong: %+v", page[0])
	}
	if !page[1].IsAudio || page[1].Text != "" {
		t.Fatalf("reply row wrong: %+v", page[1])
	}
}

func TestChatMessagesPagination(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()
	token := ts.registerAndLogin(t, "ada")
	_, chat := ts.createAgentAndChat(t, token)

	ts.gw.completion = "reply"
	for i := 0; i < 3; i++ {
		resp := ts.do(t, http.MethodPost, "/send", token, map[string]string{
			"chat_id": chat.ID, "text": fmt.Sprintf("question %d", i),
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("send %d: status %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := ts.do(t, http.MethodGet, "/chats/"+chat.ID+"/messages?offset=-1&limit=2", token, nil)
	var page []history.PageItem
	decodeJSONResponse(t, resp, &page)
	if len(page) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page))
	}
	if page[1].Sender != "agent" {
		t.Fatalf("last message should be the newest reply: %+v", page[1])
	}

	resp = ts.do(t, http.MethodGet, "/chats/"+chat.ID+"/messages?offset=-100&limit=2", token, nil)
	decodeJSONResponse(t, resp, &page)
	if len(page) != 0 {
		t.Fatalf("out-of-range page should be empty, got %+v", page)
	}
}

type recordingWSWriter struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *recordingWSWriter) Write(ctx context.Context, msgType websocket.MessageType, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, data)
	return nil
}

func (r *recordingWSWriter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestStreamEventsWritesJSON(t *testing.T) {
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	sub := bus.Subscribe(ctx, "ada")
	writer := &recordingWSWriter{}

	done := make(chan error, 1)
	go func() {
		done <- streamEvents(ctx, sub, writer)
	}()

	bus.Publish("ada", events.Event{Type: events.TypeTurnCompleted, ChatID: "c1", MessageID: "m1"})

	deadline := time.Now().Add(time.Second)
	for writer.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no payload written")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	var ev events.Event
	if err := json.Unmarshal(writer.payloads[0], &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Type != events.TypeTurnCompleted || ev.ChatID != "c1" || ev.MessageID != "m1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
