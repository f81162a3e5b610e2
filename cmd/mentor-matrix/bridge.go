// ABOUTME: Matrix bridge core for mentor-matrix
// ABOUTME: Routes problems from Matrix rooms to the gateway and posts explanations back

package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/2389/mentor-gateway/internal/dedupe"
	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/tutor"
)

const (
	// typingTimeout is how long the typing indicator shows without a refresh.
	typingTimeout = 30 * time.Second
	// networkTimeout is the timeout for Matrix API calls.
	networkTimeout = 10 * time.Second
	// sendTimeout is the timeout for posting messages, which can be large.
	sendTimeout = 30 * time.Second

	seenEventTTL      = time.Hour
	seenEventCapacity = 4096
)

// gatewayAPI is the part of GatewayClient the bridge calls.
type gatewayAPI interface {
	Solve(ctx context.Context, req SolveRequest, onEvent func(StreamEvent)) (*SolveOutcome, error)
	ExtractImage(ctx context.Context, filename string, data []byte) (string, error)
}

// roomClient performs the room-level Matrix calls made while answering.
type roomClient interface {
	SendMarkdown(roomID id.RoomID, text string)
	SetTyping(roomID id.RoomID, typing bool)
	DownloadImage(ctx context.Context, content *event.MessageEventContent) ([]byte, string, error)
}

// Bridge connects Matrix to mentor-gateway.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	rooms   roomClient
	gateway gatewayAPI
	logger  *slog.Logger

	// processing holds rooms with a problem in flight.
	processing sync.Map
	// seen holds event IDs already handled, so redelivered events are skipped.
	seen    *dedupe.Cache
	started time.Time

	// ctx is the parent context for message processing goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a new Matrix bridge. Call Login before Run.
func NewBridge(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Bridge{
		config:  cfg,
		matrix:  client,
		rooms:   &matrixRooms{client: client, logger: logger},
		gateway: NewGatewayClient(cfg.Gateway.URL, cfg.Gateway.Token),
		logger:  logger,
		seen:    dedupe.New(seenEventTTL, seenEventCapacity),
	}, nil
}

// Login authenticates with the homeserver using the configured password.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:                 b.config.Matrix.Password,
		InitialDeviceDisplayName: "mentor-matrix",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}

	b.logger.Info("logged in to matrix", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())
	return nil
}

// UserID returns the bridge's Matrix user ID after Login.
func (b *Bridge) UserID() string {
	return b.matrix.UserID.String()
}

// Run starts the bridge and blocks until context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.UserID(),
		"gateway", b.config.Gateway.URL,
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()
	defer b.seen.Close()
	b.started = time.Now()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMemberEvent joins allowed rooms the bridge is invited to.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.UserID() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite || !b.isRoomAllowed(evt.RoomID.String()) {
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.matrix.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		b.logger.Warn("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.matrix.UserID {
		return
	}
	// History from the initial sync is not answered again.
	if time.UnixMilli(evt.Timestamp).Before(b.started) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	switch content.MsgType {
	case event.MsgText:
		problem, ok := b.stripPrefix(content.Body)
		if !ok || problem == "" {
			return
		}
		if !b.firstDelivery(evt) {
			return
		}
		b.logger.Info("received problem",
			"room", roomID,
			"sender", evt.Sender.String(),
			"content", truncate(problem, 50),
		)
		// Process in a goroutine so sync is not blocked.
		go b.processText(b.ctx, evt.RoomID, problem)

	case event.MsgImage:
		if !b.config.Bridge.Images || !b.firstDelivery(evt) {
			return
		}
		b.logger.Info("received image", "room", roomID, "sender", evt.Sender.String())
		go b.processImage(b.ctx, evt.RoomID, content)
	}
}

// firstDelivery reports whether evt has not been handled before.
func (b *Bridge) firstDelivery(evt *event.Event) bool {
	if _, dup := b.seen.Claim(evt.ID.String(), evt.RoomID.String()); dup {
		b.logger.Debug("skipping redelivered event", "event_id", evt.ID.String())
		return false
	}
	return true
}

// stripPrefix removes the command prefix. ok is false when a prefix is
// configured and body does not start with it.
func (b *Bridge) stripPrefix(body string) (string, bool) {
	body = strings.TrimSpace(body)
	prefix := b.config.Bridge.CommandPrefix
	if prefix == "" {
		return body, true
	}
	if !strings.HasPrefix(body, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(body, prefix)), true
}

// claimRoom marks a room busy. It returns false if a problem is already in
// flight there.
func (b *Bridge) claimRoom(roomID id.RoomID) bool {
	if _, loaded := b.processing.LoadOrStore(roomID.String(), true); loaded {
		b.logger.Debug("already processing a problem in room", "room", roomID.String())
		b.rooms.SendMarkdown(roomID, "_Still working on the previous problem. Send this one again when it's done._")
		return false
	}
	return true
}

func (b *Bridge) processText(ctx context.Context, roomID id.RoomID, problem string) {
	if !b.claimRoom(roomID) {
		return
	}
	defer b.processing.Delete(roomID.String())

	b.solve(ctx, roomID, problem, tutor.InputText)
}

func (b *Bridge) processImage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) {
	if !b.claimRoom(roomID) {
		return
	}
	defer b.processing.Delete(roomID.String())

	if b.config.Bridge.TypingIndicator {
		b.rooms.SetTyping(roomID, true)
	}

	data, filename, err := b.rooms.DownloadImage(ctx, content)
	if err != nil {
		b.logger.Error("failed to download image", "room", roomID.String(), "error", err)
		b.setTypingOff(roomID)
		b.rooms.SendMarkdown(roomID, "Sorry, I couldn't download that image.")
		return
	}

	problem, err := b.gateway.ExtractImage(ctx, filename, data)
	if err != nil {
		b.logger.Error("image extraction failed", "room", roomID.String(), "error", err)
		b.setTypingOff(roomID)
		b.rooms.SendMarkdown(roomID, fmt.Sprintf("Sorry, I couldn't read a problem from that image: %v", err))
		return
	}

	b.rooms.SendMarkdown(roomID, quoteProblem(problem))
	b.solve(ctx, roomID, problem, tutor.InputImage)
}

// matrixRooms implements roomClient on a mautrix client.
type matrixRooms struct {
	client *mautrix.Client
	logger *slog.Logger
}

// DownloadImage fetches the media behind an image message, decrypting it
// when the room is encrypted.
func (m *matrixRooms) DownloadImage(ctx context.Context, content *event.MessageEventContent) ([]byte, string, error) {
	uri := content.URL
	if content.File != nil {
		uri = content.File.URL
	}
	mxc, err := uri.Parse()
	if err != nil {
		return nil, "", fmt.Errorf("parsing media URL: %w", err)
	}

	data, err := m.client.DownloadBytes(ctx, mxc)
	if err != nil {
		return nil, "", fmt.Errorf("downloading %s: %w", mxc.String(), err)
	}
	if content.File != nil {
		if err := content.File.DecryptInPlace(data); err != nil {
			return nil, "", fmt.Errorf("decrypting media: %w", err)
		}
	}

	filename := content.FileName
	if filename == "" {
		filename = content.Body
	}
	if filename == "" {
		filename = "image"
	}
	return data, filename, nil
}

// solve streams a problem through the gateway, refreshing the typing
// indicator on every pipeline step, and posts the outcome.
func (b *Bridge) solve(ctx context.Context, roomID id.RoomID, problem string, inputType tutor.InputType) {
	roomStr := roomID.String()
	typing := b.config.Bridge.TypingIndicator
	if typing {
		b.rooms.SetTyping(roomID, true)
		defer b.setTypingOff(roomID)
	}

	outcome, err := b.gateway.Solve(ctx, SolveRequest{Text: problem, InputType: string(inputType)}, func(evt StreamEvent) {
		switch evt.Type {
		case session.EventStarted:
			b.logger.Debug("run started", "room", roomStr, "run_id", evt.RunID)
		case session.EventStep:
			b.logger.Debug("pipeline step", "room", roomStr, "node", evt.Node, "next", evt.Next)
			if typing {
				b.rooms.SetTyping(roomID, true)
			}
		}
	})
	if err != nil {
		b.logger.Error("gateway request failed", "room", roomStr, "error", err)
		b.rooms.SendMarkdown(roomID, fmt.Sprintf("Sorry, something went wrong: %v", err))
		return
	}

	b.logger.Info("sending solution",
		"room", roomStr,
		"run_id", outcome.RunID,
		"outcome", outcome.Result.Outcome,
	)
	b.rooms.SendMarkdown(roomID, formatOutcome(outcome))
}

// formatOutcome renders the reply for a finished run as Markdown.
func formatOutcome(o *SolveOutcome) string {
	res := o.Result
	var sb strings.Builder

	if o.Duplicate {
		sb.WriteString("_You sent this problem recently; here is that answer again._\n\n")
	}

	switch res.Outcome {
	case tutor.OutcomeNeedsClarification:
		notice := res.Notice
		if notice == "" {
			notice = tutor.ClarificationNotice
		}
		sb.WriteString("🤔 " + notice)
	case tutor.OutcomeUnverified:
		notice := res.Notice
		if notice == "" {
			notice = tutor.UnverifiedNotice
		}
		sb.WriteString("⚠️ **" + notice + "**\n\n")
		sb.WriteString("**Answer:** " + res.Answer)
		if res.Critique != "" {
			sb.WriteString("\n\n_Verifier:_ " + res.Critique)
		}
	case tutor.OutcomeFailed:
		sb.WriteString("Sorry, I couldn't solve this one.")
		detail := res.Notice
		if detail == "" {
			detail = res.Error
		}
		if detail != "" {
			sb.WriteString(" " + detail)
		}
	default:
		body := res.Display
		if body == "" {
			body = res.Explanation
		}
		if body == "" {
			body = "**Answer:** " + res.Answer
		}
		sb.WriteString(body)
	}

	if o.URL != "" {
		sb.WriteString("\n\n[View the full solution](" + o.URL + ")")
	}
	return sb.String()
}

// quoteProblem echoes extracted text so the student can check it.
func quoteProblem(problem string) string {
	lines := strings.Split(strings.TrimSpace(problem), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return "I read this problem:\n\n" + strings.Join(lines, "\n")
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}
	return slices.Contains(b.config.Bridge.AllowedRooms, roomID)
}

// SetTyping sends typing indicator to room.
func (m *matrixRooms) SetTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := m.client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		m.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

func (b *Bridge) setTypingOff(roomID id.RoomID) {
	if b.config.Bridge.TypingIndicator {
		b.rooms.SetTyping(roomID, false)
	}
}

// SendMarkdown posts a Markdown message, rendered to HTML for clients that
// support it.
func (m *matrixRooms) SendMarkdown(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	content := format.RenderMarkdown(text, true, false)
	if _, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		m.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
