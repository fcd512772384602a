package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calliope-chat/calliope/internal/artifact"
	"github.com/calliope-chat/calliope/internal/events"
	"github.com/calliope-chat/calliope/internal/state"
	"github.com/calliope-chat/calliope/internal/testutil"
)

type failingArtifacts struct {
	artifact.Store
	err error
}

func (f *failingArtifacts) Put(key string, data []byte) error { return f.err }

type fixture struct {
	store *state.Store
	files *artifact.FS
	bus   *events.Bus
	user  state.User
	agent state.Agent
	chat  state.Chat
}

func newFixture(t *testing.T) (*fixture, func()) {
	t.Helper()
	db, closeFn := testutil.OpenTestDB(t)
	store := state.NewStore(db)
	files, err := artifact.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("artifact fs: %v", err)
	}
	ctx := context.Background()
	user, err := store.CreateUser(ctx, "ada", "ada@example.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	agent, err := store.CreateAgent(ctx, user.ID, "Football Expert", "You know football.")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	chat, err := store.CreateChat(ctx, user.ID, agent.ID, "Chat")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return &fixture{store: store, files: files, bus: events.NewBus(), user: user, agent: agent, chat: chat}, closeFn
}

func (f *fixture) coordinator(gw *fakeGateway, artifacts artifact.Store) *Coordinator {
	if artifacts == nil {
		artifacts = f.files
	}
	return &Coordinator{
		Store:     f.store,
		Artifacts: artifacts,
		Pipeline:  &Pipeline{Gateway: gw},
		Bus:       f.bus,
		Log:       zerolog.Nop(),
	}
}

func TestSendTextTurn(t *testing.T) {
	f, closeFn := newFixture(t)
	defer closeFn()
	ctx := context.Background()

	ch := f.bus.Subscribe(ctx, f.user.ID)
	gw := &fakeGateway{completion: "Real Madrid won in 2014."}
	c := f.coordinator(gw, nil)

	reply, err := c.Send(ctx, f.user, SendRequest{ChatID: f.chat.ID, Text: "Who won the UCL in 2014?"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.IsAudio || !reply.IsAgent || reply.Text != "Real Madrid won in 2014." {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	msgs, _ := f.store.ListMessages(ctx, f.chat.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected user + reply rows, got %d", len(msgs))
	}
	if msgs[0].IsAgent || msgs[0].Text != "Who won the UCL in 2014?" {
		t.Fatalf("user message wrong: %+v", msgs[0])
	}

	chat, _ := f.store.GetChat(ctx, f.user.ID, f.chat.ID)
	if !chat.LastMessageAt.Equal(reply.SentAt) {
		t.Fatalf("activity %v != reply %v", chat.LastMessageAt, reply.SentAt)
	}

	select {
	case ev := <-ch:
		if ev.Type != events.TypeTurnCompleted || ev.MessageID != reply.ID {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no turn event published")
	}
}

func TestSendKeepsUserMessageWhenCompletionFails(t *testing.T) {
	f, closeFn := newFixture(t)
	defer closeFn()
	ctx := context.Background()

	gw := &fakeGateway{completeErr: errors.New("provider down")}
	c := f.coordinator(gw, nil)

	_, err := c.Send(ctx, f.user, SendRequest{ChatID: f.chat.ID, Text: "Hello?"})
	if err == nil {
		t.Fatal("expected error")
	}

	msgs, _ := f.store.ListMessages(ctx, f.chat.ID)
	if len(msgs) != 1 || msgs[0].IsAgent {
		t.Fatalf("user message must survive a failed turn, got %+v", msgs)
	}
	chat, _ := f.store.GetChat(ctx, f.user.ID, f.chat.ID)
	if !chat.LastMessageAt.IsZero() {
		t.Fatalf("failed turn must not stamp activity, got %v", chat.LastMessageAt)
	}
}

func TestSendAudioTurn(t *testing.T) {
	f, closeFn := newFixture(t)
	defer closeFn()
	ctx := context.Background()

	upload, err := f.store.InsertUserMessage(ctx, f.chat.ID, true, "")
	if err != nil {
		t.Fatalf("insert audio message: %v", err)
	}
	inputKey := artifact.Key(artifact.RoleUser, f.user.Username, upload.ID)
	if err := f.files.Put(inputKey, []byte("wav bytes")); err != nil {
		t.Fatalf("store upload: %v", err)
	}

	gw := &fakeGateway{
		transcription: "Who won the UCL in 2014?",
		completion:    "Real Madrid won in 2014.",
		audio:         []byte("mp3 bytes"),
	}
	c := f.coordinator(gw, nil)

	reply, err := c.Send(ctx, f.user, SendRequest{ChatID: f.chat.ID, AudioMessageID: upload.ID})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !reply.IsAudio || reply.Text != "Real Madrid won in 2014." {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	replyKey := artifact.Key(artifact.RoleAgent, f.user.Username, reply.ID)
	audio, err := f.files.Get(replyKey)
	if err != nil {
		t.Fatalf("reply artifact missing: %v", err)
	}
	if string(audio) != "mp3 bytes" {
		t.Fatalf("unexpected artifact %q", audio)
	}

	msgs, _ := f.store.ListMessages(ctx, f.chat.ID)
	if msgs[0].Text != "Who won the UCL in 2014?" {
		t.Fatalf("transcription not stored on the upload: %+v", msgs[0])
	}
}

func TestSendAudioRollsBackOnArtifactFailure(t *testing.T) {
	f, closeFn := newFixture(t)
	defer closeFn()
	ctx := context.Background()

	upload, _ := f.store.InsertUserMessage(ctx, f.chat.ID, true, "")
	inputKey := artifact.Key(artifact.RoleUser, f.user.Username, upload.ID)
	_ = f.files.Put(inputKey, []byte("wav bytes"))

	writeErr := &artifact.WriteError{Key: "x", Err: errors.New("disk full")}
	gw := &fakeGateway{transcription: "question", completion: "answer", audio: []byte("mp3")}
	c := f.coordinator(gw, &failingArtifacts{Store: f.files, err: writeErr})

	_, err := c.Send(ctx, f.user, SendRequest{ChatID: f.chat.ID, AudioMessageID: upload.ID})
	var we *artifact.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected WriteError, got %v", err)
	}

	msgs, _ := f.store.ListMessages(ctx, f.chat.ID)
	if len(msgs) != 1 {
		t.Fatalf("reply row must not survive artifact failure, got %d rows", len(msgs))
	}
	if msgs[0].Text != "" {
		t.Fatalf("transcription must roll back with the reply, got %q", msgs[0].Text)
	}
	chat, _ := f.store.GetChat(ctx, f.user.ID, f.chat.ID)
	if !chat.LastMessageAt.IsZero() {
		t.Fatalf("activity must stay unchanged, got %v", chat.LastMessageAt)
	}
}

func TestSendRejectsForeignAudioMessage(t *testing.T) {
	f, closeFn := newFixture(t)
	defer closeFn()
	ctx := context.Background()

	other, _ := f.store.CreateChat(ctx, f.user.ID, f.agent.ID, "Other Chat")
	upload, _ := f.store.InsertUserMessage(ctx, other.ID, true, "")

	gw := &fakeGateway{}
	c := f.coordinator(gw, nil)

	// The upload lives in a different chat than the one being driven.
	_, err := c.Send(ctx, f.user, SendRequest{ChatID: f.chat.ID, AudioMessageID: upload.ID})
	if !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-chat reference, got %v", err)
	}
	if len(gw.prompts) != 0 {
		t.Fatal("no model call should happen for an invalid reference")
	}
}
