// Package approval posts promotion requests to a review queue and resolves
// them from the card alone, so pending cards survive restarts.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/metrics"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/notify"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/roles"
	"github.com/bwmarrin/discordgo"
	"github.com/sourcegraph/conc"
)

const (
	// claimTTL matches the lifetime of an interaction token; a card clicked
	// later is delivered with its resolved status anyway
	claimTTL = 15 * time.Minute

	dmTimeout = 2 * time.Minute
)

var (
	ErrPermissionDenied = errors.New("reviewer lacks Manage Roles")
	ErrCardMalformed    = errors.New("card is missing IGN or target rank")
	ErrNoTarget         = errors.New("card has no target mention")
	ErrAlreadyResolved  = errors.New("promotion request already resolved")
)

// Session is the subset of discordgo.Session used to post and edit cards
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier receives audit entries and member DMs. Implementations must not fail.
type Notifier interface {
	Audit(ctx context.Context, guildID, content string)
	DirectMessage(ctx context.Context, userID, content string) bool
}

// History records cards for auditing. It is never read back to decide anything.
type History interface {
	RecordCard(ctx context.Context, req *promotion.Request, channelID, messageID string) error
	ResolveCard(ctx context.Context, messageID string, status promotion.Status, reviewerID string) error
}

// Action is a reviewer pressing a card button
type Action struct {
	GuildID     string
	ReviewerID  string
	ReviewerTag string
	Permissions int64
	Message     *discordgo.Message
}

// Resolution describes a resolved card
type Resolution struct {
	Card
	RoleName   string
	AlreadyHad bool
}

// Workflow submits cards and resolves them. Apart from short-lived review
// claims it holds no per-request state.
type Workflow struct {
	session  Session
	granter  *roles.Granter
	notifier Notifier
	history  History
	metrics  *metrics.Recorder
	log      *slog.Logger

	mu     sync.Mutex
	claims map[string]time.Time // card message ID -> claimed at
	now    func() time.Time

	dms conc.WaitGroup
}

// New creates a Workflow. history and rec may be nil.
func New(session Session, granter *roles.Granter, notifier Notifier, history History, rec *metrics.Recorder) *Workflow {
	return &Workflow{
		session:  session,
		granter:  granter,
		notifier: notifier,
		history:  history,
		metrics:  rec,
		log:      slog.With("component", "approval"),
		claims:   make(map[string]time.Time),
		now:      time.Now,
	}
}

// Wait blocks until every queued member DM has been attempted
func (w *Workflow) Wait() {
	w.dms.Wait()
}

// Submit posts the card for req to the queue channel. If the rich card is
// refused it retries once with the plain text card.
func (w *Workflow) Submit(ctx context.Context, req *promotion.Request, queueChannelID string) (*discordgo.Message, error) {
	msg, err := w.session.ChannelMessageSendComplex(queueChannelID, RenderCard(req), discordgo.WithContext(ctx))
	if err == nil {
		w.metrics.CardPost("embed")
		w.record(ctx, req, msg)
		return msg, nil
	}
	w.log.Warn("Rich promotion card rejected, falling back to plain text",
		append(notify.DescribeRESTError(err), "channel", queueChannelID, "request", req.ID)...)

	msg, err = w.session.ChannelMessageSendComplex(queueChannelID, RenderPlainCard(req), discordgo.WithContext(ctx))
	if err != nil {
		w.metrics.CardPost("failed")
		w.log.Error("Failed to post promotion card",
			append(notify.DescribeRESTError(err), "channel", queueChannelID, "request", req.ID)...)
		return nil, fmt.Errorf("failed to post promotion card: %w", err)
	}
	w.metrics.CardPost("plain")
	w.record(ctx, req, msg)
	return msg, nil
}

// Approve grants the card's target rank to the mentioned member
func (w *Workflow) Approve(ctx context.Context, a Action) (*Resolution, error) {
	if !roles.CanManageRoles(a.Permissions) {
		w.metrics.Review("approve", "denied")
		return nil, ErrPermissionDenied
	}

	card, err := ParseCard(a.Message)
	if err != nil {
		w.metrics.Review("approve", "malformed")
		return nil, err
	}
	if card.Resolved() || !w.claim(a.Message.ID) {
		w.metrics.Review("approve", "already_resolved")
		return &Resolution{Card: card}, ErrAlreadyResolved
	}

	grant, err := w.granter.GrantByName(ctx, "approval", a.GuildID, card.TargetID, card.Rank)
	if err != nil {
		w.release(a.Message.ID)
		w.metrics.Review("approve", "error")
		w.log.Error("Failed to grant promotion role", append(notify.DescribeRESTError(err),
			"guild", a.GuildID, "target", card.TargetID, "rank", card.Rank, "reviewer", a.ReviewerID)...)
		return &Resolution{Card: card}, err
	}

	w.markResolved(ctx, a, promotion.StatusApproved)
	w.metrics.Review("approve", "approved")

	w.notifier.Audit(ctx, a.GuildID, fmt.Sprintf("✅ **Promotion Approved**: <@%s> → **%s** (IGN **%s**, by <@%s>) • [Jump](%s)",
		card.TargetID, grant.Role.Name, card.Handle, a.ReviewerID, jumpURL(a)))
	w.directMessage(ctx, card.TargetID,
		fmt.Sprintf("Your promotion to **%s** (IGN **%s**) was approved.", grant.Role.Name, card.Handle))

	return &Resolution{Card: card, RoleName: grant.Role.Name, AlreadyHad: grant.AlreadyHad}, nil
}

// Reject resolves the card without touching roles. Cards that cannot be
// parsed are still rejected and audited as "Unknown".
func (w *Workflow) Reject(ctx context.Context, a Action) (*Resolution, error) {
	if !roles.CanManageRoles(a.Permissions) {
		w.metrics.Review("reject", "denied")
		return nil, ErrPermissionDenied
	}

	card, _ := ParseCard(a.Message)
	if card.Resolved() || (a.Message != nil && !w.claim(a.Message.ID)) {
		w.metrics.Review("reject", "already_resolved")
		return &Resolution{Card: card}, ErrAlreadyResolved
	}

	if a.Message != nil {
		w.markResolved(ctx, a, promotion.StatusRejected)
	}
	w.metrics.Review("reject", "rejected")

	w.notifier.Audit(ctx, a.GuildID, fmt.Sprintf("❌ **Promotion Rejected**: IGN **%s**, target rank **%s** • by <@%s> • [Jump](%s)",
		orUnknown(card.Handle), orUnknown(card.Rank), a.ReviewerID, jumpURL(a)))

	return &Resolution{Card: card}, nil
}

// markResolved edits the card and history. Failures are logged only.
func (w *Workflow) markResolved(ctx context.Context, a Action, status promotion.Status) {
	reviewer := a.ReviewerTag
	if reviewer == "" {
		reviewer = a.ReviewerID
	}
	if _, err := w.session.ChannelMessageEditComplex(resolvedEdit(a.Message, status, reviewer), discordgo.WithContext(ctx)); err != nil {
		w.log.Warn("Failed to mark promotion card resolved",
			append(notify.DescribeRESTError(err), "channel", a.Message.ChannelID, "message", a.Message.ID)...)
	}
	if w.history == nil {
		return
	}
	if err := w.history.ResolveCard(ctx, a.Message.ID, status, a.ReviewerID); err != nil {
		w.log.Warn("Failed to record promotion resolution", "message", a.Message.ID, "error", err)
	}
}

// claim reserves a card for one reviewer. It fails while another review of
// the same card is running or has finished within claimTTL.
func (w *Workflow) claim(messageID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for id, at := range w.claims {
		if now.Sub(at) > claimTTL {
			delete(w.claims, id)
		}
	}
	if _, taken := w.claims[messageID]; taken {
		return false
	}
	w.claims[messageID] = now
	return true
}

func (w *Workflow) release(messageID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.claims, messageID)
}

// directMessage sends the DM in the background so the reviewer's reply
// never waits on the shared DM limiter
func (w *Workflow) directMessage(ctx context.Context, userID, content string) {
	ctx = context.WithoutCancel(ctx)
	w.dms.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, dmTimeout)
		defer cancel()
		w.notifier.DirectMessage(ctx, userID, content)
	})
}

func (w *Workflow) record(ctx context.Context, req *promotion.Request, msg *discordgo.Message) {
	if w.history == nil || msg == nil {
		return
	}
	if err := w.history.RecordCard(ctx, req, msg.ChannelID, msg.ID); err != nil {
		w.log.Warn("Failed to record promotion card", "request", req.ID, "error", err)
	}
}

func jumpURL(a Action) string {
	if a.Message == nil {
		return ""
	}
	guildID := a.Message.GuildID
	if guildID == "" {
		guildID = a.GuildID
	}
	return notify.JumpURL(guildID, a.Message.ChannelID, a.Message.ID)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
