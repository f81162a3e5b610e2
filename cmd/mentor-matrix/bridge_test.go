// ABOUTME: Tests for bridge message handling, routing helpers, and reply formatting
// ABOUTME: Handlers run against fake gateway and room clients

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/mentor-gateway/internal/dedupe"
	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/tutor"
)

const (
	botUser   = "@mentor:test"
	student   = "@student:test"
	mathRoom  = "!math:test"
	otherRoom = "!other:test"
)

type sentMessage struct {
	room id.RoomID
	text string
}

type fakeRooms struct {
	sent chan sentMessage

	mu     sync.Mutex
	typing []bool

	image       []byte
	downloadErr error
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{sent: make(chan sentMessage, 16), image: []byte("png-bytes")}
}

func (f *fakeRooms) SendMarkdown(roomID id.RoomID, text string) {
	f.sent <- sentMessage{room: roomID, text: text}
}

func (f *fakeRooms) SetTyping(_ id.RoomID, typing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typing)
}

func (f *fakeRooms) DownloadImage(context.Context, *event.MessageEventContent) ([]byte, string, error) {
	if f.downloadErr != nil {
		return nil, "", f.downloadErr
	}
	return f.image, "photo.png", nil
}

func (f *fakeRooms) typingCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.typing)
}

func (f *fakeRooms) next(t *testing.T) sentMessage {
	t.Helper()
	select {
	case m := <-f.sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return sentMessage{}
	}
}

func (f *fakeRooms) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case m := <-f.sent:
		t.Fatalf("unexpected reply to %s: %q", m.room, m.text)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeGateway struct {
	outcome    *SolveOutcome
	err        error
	events     []StreamEvent
	extracted  string
	extractErr error

	// entered receives once per Solve call when set; Solve then waits on release.
	entered chan struct{}
	release chan struct{}

	mu       sync.Mutex
	requests []SolveRequest
	images   [][]byte
}

func (g *fakeGateway) Solve(ctx context.Context, req SolveRequest, onEvent func(StreamEvent)) (*SolveOutcome, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.entered != nil {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for _, evt := range g.events {
		onEvent(evt)
	}
	return g.outcome, g.err
}

func (g *fakeGateway) ExtractImage(_ context.Context, _ string, data []byte) (string, error) {
	g.mu.Lock()
	g.images = append(g.images, data)
	g.mu.Unlock()
	return g.extracted, g.extractErr
}

func (g *fakeGateway) solveRequests() []SolveRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.requests)
}

func verifiedOutcome(answer string) *SolveOutcome {
	return &SolveOutcome{
		RunID:  "run-1",
		URL:    "https://mentor.test/runs/run-1",
		Result: tutor.Result{Outcome: tutor.OutcomeVerified, Answer: answer},
	}
}

func newTestBridge(t *testing.T, cfg BridgeConfig, gw *fakeGateway) (*Bridge, *fakeRooms) {
	t.Helper()
	client, err := mautrix.NewClient("https://matrix.test", botUser, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	seen := dedupe.New(time.Hour, 64)
	t.Cleanup(seen.Close)

	rooms := newFakeRooms()
	return &Bridge{
		config:  &Config{Bridge: cfg},
		matrix:  client,
		rooms:   rooms,
		gateway: gw,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		seen:    seen,
		started: time.Now().Add(-time.Minute),
		ctx:     ctx,
		cancel:  cancel,
	}, rooms
}

func messageEvent(eventID, room, sender string, content *event.MessageEventContent) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		RoomID:    id.RoomID(room),
		Sender:    id.UserID(sender),
		Type:      event.EventMessage,
		Timestamp: time.Now().UnixMilli(),
		Content:   event.Content{Parsed: content},
	}
}

func textEvent(eventID, room, sender, body string) *event.Event {
	return messageEvent(eventID, room, sender, &event.MessageEventContent{MsgType: event.MsgText, Body: body})
}

func TestHandleMessage_SolvesPrefixedProblem(t *testing.T) {
	gw := &fakeGateway{
		outcome: verifiedOutcome("x = 2"),
		events: []StreamEvent{
			{Event: session.Event{Type: session.EventStarted, RunID: "run-1"}},
			{Event: session.Event{Type: session.EventStep, RunID: "run-1", Node: "solver", Next: "verifier"}},
		},
	}
	b, rooms := newTestBridge(t, BridgeConfig{CommandPrefix: "!solve", TypingIndicator: true}, gw)

	b.handleMessageEvent(context.Background(), textEvent("$1", mathRoom, student, "hello everyone"))
	rooms.assertQuiet(t)
	assert.Empty(t, gw.solveRequests(), "messages without the prefix are ignored")

	b.handleMessageEvent(context.Background(), textEvent("$2", mathRoom, student, "!solve  2x + 3 = 7"))
	reply := rooms.next(t)
	assert.Equal(t, id.RoomID(mathRoom), reply.room)
	assert.Equal(t, formatOutcome(gw.outcome), reply.text)

	assert.Equal(t, []SolveRequest{{Text: "2x + 3 = 7", InputType: string(tutor.InputText)}}, gw.solveRequests())

	// On at start, refreshed on the step, off when done.
	require.Eventually(t, func() bool {
		return slices.Equal(rooms.typingCalls(), []bool{true, true, false})
	}, time.Second, 10*time.Millisecond)
}

func TestHandleMessage_SkipsIgnoredSenders(t *testing.T) {
	gw := &fakeGateway{outcome: verifiedOutcome("4")}
	b, rooms := newTestBridge(t, BridgeConfig{AllowedRooms: []string{mathRoom}}, gw)

	b.handleMessageEvent(context.Background(), textEvent("$own", mathRoom, botUser, "2 + 2"))

	old := textEvent("$old", mathRoom, student, "2 + 2")
	old.Timestamp = b.started.Add(-time.Hour).UnixMilli()
	b.handleMessageEvent(context.Background(), old)

	b.handleMessageEvent(context.Background(), textEvent("$elsewhere", otherRoom, student, "2 + 2"))

	rooms.assertQuiet(t)
	assert.Empty(t, gw.solveRequests())
}

func TestHandleMessage_SkipsRedeliveredEvent(t *testing.T) {
	gw := &fakeGateway{outcome: verifiedOutcome("4")}
	b, rooms := newTestBridge(t, BridgeConfig{}, gw)

	evt := textEvent("$same", mathRoom, student, "2 + 2")
	b.handleMessageEvent(context.Background(), evt)
	rooms.next(t)

	b.handleMessageEvent(context.Background(), evt)
	rooms.assertQuiet(t)
	assert.Len(t, gw.solveRequests(), 1)
}

func TestHandleMessage_OneProblemPerRoom(t *testing.T) {
	gw := &fakeGateway{
		outcome: verifiedOutcome("4"),
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	b, rooms := newTestBridge(t, BridgeConfig{}, gw)

	b.handleMessageEvent(context.Background(), textEvent("$1", mathRoom, student, "2 + 2"))
	<-gw.entered

	b.handleMessageEvent(context.Background(), textEvent("$2", mathRoom, student, "3 + 3"))
	busy := rooms.next(t)
	assert.Equal(t, id.RoomID(mathRoom), busy.room)
	assert.Contains(t, busy.text, "Still working on the previous problem")

	// Other rooms are not held up.
	b.handleMessageEvent(context.Background(), textEvent("$3", otherRoom, student, "5 + 5"))
	<-gw.entered

	close(gw.release)
	got := []id.RoomID{rooms.next(t).room, rooms.next(t).room}
	assert.ElementsMatch(t, []id.RoomID{mathRoom, otherRoom}, got)
	assert.Len(t, gw.solveRequests(), 2)

	require.Eventually(t, func() bool {
		_, busy := b.processing.Load(mathRoom)
		return !busy
	}, time.Second, 10*time.Millisecond)

	b.handleMessageEvent(context.Background(), textEvent("$4", mathRoom, student, "3 + 3"))
	<-gw.entered
	assert.Equal(t, formatOutcome(gw.outcome), rooms.next(t).text)
}

func TestHandleMessage_Image(t *testing.T) {
	gw := &fakeGateway{outcome: verifiedOutcome("x = 2"), extracted: "2x = 4"}
	b, rooms := newTestBridge(t, BridgeConfig{Images: true}, gw)

	img := &event.MessageEventContent{MsgType: event.MsgImage, Body: "photo.png", URL: "mxc://matrix.test/abc"}
	b.handleMessageEvent(context.Background(), messageEvent("$img", mathRoom, student, img))

	assert.Equal(t, quoteProblem("2x = 4"), rooms.next(t).text)
	assert.Equal(t, formatOutcome(gw.outcome), rooms.next(t).text)
	assert.Equal(t, []SolveRequest{{Text: "2x = 4", InputType: string(tutor.InputImage)}}, gw.solveRequests())
	assert.Equal(t, [][]byte{rooms.image}, gw.images)
}

func TestHandleMessage_ImageFailures(t *testing.T) {
	img := &event.MessageEventContent{MsgType: event.MsgImage, Body: "photo.png", URL: "mxc://matrix.test/abc"}

	t.Run("disabled", func(t *testing.T) {
		gw := &fakeGateway{}
		b, rooms := newTestBridge(t, BridgeConfig{}, gw)
		b.handleMessageEvent(context.Background(), messageEvent("$img", mathRoom, student, img))
		rooms.assertQuiet(t)
	})

	t.Run("download", func(t *testing.T) {
		gw := &fakeGateway{}
		b, rooms := newTestBridge(t, BridgeConfig{Images: true}, gw)
		rooms.downloadErr = errors.New("404")
		b.handleMessageEvent(context.Background(), messageEvent("$img", mathRoom, student, img))
		assert.Equal(t, "Sorry, I couldn't download that image.", rooms.next(t).text)
		assert.Empty(t, gw.solveRequests())
	})

	t.Run("extraction", func(t *testing.T) {
		gw := &fakeGateway{extractErr: errors.New("no text found")}
		b, rooms := newTestBridge(t, BridgeConfig{Images: true}, gw)
		b.handleMessageEvent(context.Background(), messageEvent("$img", mathRoom, student, img))
		assert.Contains(t, rooms.next(t).text, "no text found")
		assert.Empty(t, gw.solveRequests())
	})
}

func TestHandleMessage_GatewayError(t *testing.T) {
	gw := &fakeGateway{err: errors.New("gateway unavailable")}
	b, rooms := newTestBridge(t, BridgeConfig{}, gw)

	b.handleMessageEvent(context.Background(), textEvent("$1", mathRoom, student, "2 + 2"))
	assert.Equal(t, "Sorry, something went wrong: gateway unavailable", rooms.next(t).text)

	require.Eventually(t, func() bool {
		_, busy := b.processing.Load(mathRoom)
		return !busy
	}, time.Second, 10*time.Millisecond)
}

func TestStripPrefix(t *testing.T) {
	b := &Bridge{config: &Config{Bridge: BridgeConfig{CommandPrefix: "!solve"}}}

	got, ok := b.stripPrefix("!solve  2x + 3 = 7 ")
	assert.True(t, ok)
	assert.Equal(t, "2x + 3 = 7", got)

	_, ok = b.stripPrefix("hello there")
	assert.False(t, ok)

	b.config.Bridge.CommandPrefix = ""
	got, ok = b.stripPrefix("  integrate x^2  ")
	assert.True(t, ok)
	assert.Equal(t, "integrate x^2", got)
}

func TestIsRoomAllowed(t *testing.T) {
	b := &Bridge{config: &Config{}}
	assert.True(t, b.isRoomAllowed("!any:example.org"))

	b.config.Bridge.AllowedRooms = []string{"!math:example.org"}
	assert.True(t, b.isRoomAllowed("!math:example.org"))
	assert.False(t, b.isRoomAllowed("!random:example.org"))
}

func TestFormatOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome SolveOutcome
		want    string
	}{
		{
			name: "verified shows explanation and link",
			outcome: SolveOutcome{
				URL:    "https://mentor.test/runs/r1",
				Result: tutor.Result{Outcome: tutor.OutcomeVerified, Answer: "x = 2", Display: "Subtract 3, then divide by 2: **x = 2**"},
			},
			want: "Subtract 3, then divide by 2: **x = 2**\n\n[View the full solution](https://mentor.test/runs/r1)",
		},
		{
			name: "unverified shows warning, raw answer, and critique",
			outcome: SolveOutcome{Result: tutor.Result{
				Outcome:  tutor.OutcomeUnverified,
				Answer:   "x = 5",
				Critique: "5 does not satisfy 2x + 3 = 7",
			}},
			want: "⚠️ **" + tutor.UnverifiedNotice + "**\n\n**Answer:** x = 5\n\n_Verifier:_ 5 does not satisfy 2x + 3 = 7",
		},
		{
			name:    "clarification",
			outcome: SolveOutcome{Result: tutor.Result{Outcome: tutor.OutcomeNeedsClarification}},
			want:    "🤔 " + tutor.ClarificationNotice,
		},
		{
			name:    "failed",
			outcome: SolveOutcome{Result: tutor.Result{Outcome: tutor.OutcomeFailed, Error: "model unavailable"}},
			want:    "Sorry, I couldn't solve this one. model unavailable",
		},
		{
			name: "duplicate is flagged",
			outcome: SolveOutcome{
				Duplicate: true,
				Result:    tutor.Result{Outcome: tutor.OutcomeVerified, Answer: "4"},
			},
			want: "_You sent this problem recently; here is that answer again._\n\n**Answer:** 4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatOutcome(&tt.outcome))
		})
	}
}

func TestQuoteProblem(t *testing.T) {
	assert.Equal(t, "I read this problem:\n\n> Solve for x:\n> 2x = 4", quoteProblem("Solve for x:\n2x = 4\n"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "∫∫∫...", truncate("∫∫∫∫∫", 3))
}

func TestSlugifyAndStoreKey(t *testing.T) {
	assert.Equal(t, "mentorbot_matrix.org", slugify("@mentorbot:matrix.org"))

	a := deriveStoreKey("@a:example.org")
	assert.Len(t, a, 32)
	assert.Equal(t, a, deriveStoreKey("@a:example.org"))
	assert.NotEqual(t, a, deriveStoreKey("@b:example.org"))
}

func TestCheckDeviceIDMismatch_NoDatabase(t *testing.T) {
	mismatch, err := checkDeviceIDMismatch(t.TempDir()+"/missing.db", "DEVICE")
	assert.NoError(t, err)
	assert.False(t, mismatch)
}
