package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/metrics"
	"github.com/avast/retry-go/v4"
	"github.com/bwmarrin/discordgo"
	"github.com/sourcegraph/conc/panics"
)

const (
	// MaxMessageLength is Discord's limit for message content
	MaxMessageLength = 2000
	// MaxEmbedDescription is Discord's limit for an embed description
	MaxEmbedDescription = 4096

	// ErrCodeOpeningDMsTooFast is returned when the bot opens DM channels too quickly
	ErrCodeOpeningDMsTooFast = 40003

	defaultDMBackoff = 3 * time.Second
	defaultDMRetries = 2
)

var noPings = &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}

// Session is the subset of discordgo.Session used for notifications
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// LogChannels resolves the audit channel configured for a guild.
// An empty ID means auditing is disabled for that guild.
type LogChannels interface {
	LogChannelID(ctx context.Context, guildID string) (string, error)
}

// Notifier posts audit entries and direct messages on a best-effort basis.
// None of its methods return errors; failures are logged and counted.
type Notifier struct {
	session   Session
	channels  LogChannels
	limiter   *RateLimiter
	metrics   *metrics.Recorder
	dmBackoff time.Duration
	dmRetries int
	log       *slog.Logger
}

// Option configures a Notifier
type Option func(*Notifier)

// WithDMRetry sets the backoff applied after a 40003 error and the number of retries
func WithDMRetry(backoff time.Duration, retries int) Option {
	return func(n *Notifier) {
		n.dmBackoff = backoff
		n.dmRetries = retries
	}
}

// WithMetrics attaches a metrics recorder
func WithMetrics(rec *metrics.Recorder) Option {
	return func(n *Notifier) {
		n.metrics = rec
	}
}

// New creates a Notifier. The limiter is shared with any other DM senders.
func New(session Session, channels LogChannels, limiter *RateLimiter, opts ...Option) *Notifier {
	n := &Notifier{
		session:   session,
		channels:  channels,
		limiter:   limiter,
		dmBackoff: defaultDMBackoff,
		dmRetries: defaultDMRetries,
		log:       slog.With("component", "notify"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Audit posts content to the guild's log channel, if one is configured
func (n *Notifier) Audit(ctx context.Context, guildID, content string) {
	n.safely("audit", func() {
		channelID, ok := n.logChannel(ctx, guildID)
		if !ok {
			return
		}
		_, err := n.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         Truncate(content, MaxMessageLength),
			AllowedMentions: noPings,
		})
		if err != nil {
			n.metrics.NotifyFailure("audit")
			n.log.Warn("Failed to post audit log", append(DescribeRESTError(err), "guild", guildID, "channel", channelID)...)
		}
	})
}

// AuditEmbed posts an embed to the guild's log channel, if one is configured
func (n *Notifier) AuditEmbed(ctx context.Context, guildID string, embed *discordgo.MessageEmbed) {
	n.safely("audit", func() {
		channelID, ok := n.logChannel(ctx, guildID)
		if !ok {
			return
		}
		embed.Description = Truncate(embed.Description, MaxEmbedDescription)
		_, err := n.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Embeds:          []*discordgo.MessageEmbed{embed},
			AllowedMentions: noPings,
		})
		if err != nil {
			n.metrics.NotifyFailure("audit")
			n.log.Warn("Failed to post audit embed", append(DescribeRESTError(err), "guild", guildID, "channel", channelID)...)
		}
	})
}

// DirectMessage sends content to a user's DMs through the shared rate limiter.
// A 40003 response holds the limiter back and retries a bounded number of times.
// It reports whether the message was delivered.
func (n *Notifier) DirectMessage(ctx context.Context, userID, content string) bool {
	delivered := false
	n.safely("dm", func() {
		err := retry.Do(
			func() error {
				return n.limiter.Do(ctx, func() error {
					return n.sendDM(userID, content)
				})
			},
			retry.Context(ctx),
			retry.Attempts(uint(n.dmRetries)+1),
			retry.Delay(0),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				if !IsDMTooFast(err) {
					return false
				}
				n.limiter.Hold(n.dmBackoff)
				return true
			}),
			retry.OnRetry(func(attempt uint, err error) {
				n.metrics.DMAttempt("throttled")
				n.log.Warn("Opening DMs too fast, backing off", "user", userID, "attempt", attempt+1, "backoff", n.dmBackoff)
			}),
		)
		if err != nil {
			n.metrics.DMAttempt("failed")
			n.log.Info("Direct message not delivered", append(DescribeRESTError(err), "user", userID)...)
			return
		}
		n.metrics.DMAttempt("sent")
		delivered = true
	})
	return delivered
}

// Announce posts content to the first channel that accepts it.
// Empty channel IDs are skipped. It reports whether any post succeeded.
func (n *Notifier) Announce(ctx context.Context, content string, channelIDs ...string) bool {
	posted := false
	n.safely("announce", func() {
		for _, channelID := range channelIDs {
			if channelID == "" {
				continue
			}
			_, err := n.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
				Content: Truncate(content, MaxMessageLength),
			})
			if err == nil {
				posted = true
				return
			}
			n.log.Warn("Failed to announce in channel", append(DescribeRESTError(err), "channel", channelID)...)
		}
		n.metrics.NotifyFailure("announce")
	})
	return posted
}

// Welcome DMs a new member and falls back to a public mention in the first
// usable channel when the DM cannot be delivered.
func (n *Notifier) Welcome(ctx context.Context, userID, dmText, publicText string, fallbackChannels ...string) {
	if n.DirectMessage(ctx, userID, dmText) {
		return
	}
	n.Announce(ctx, publicText, fallbackChannels...)
}

func (n *Notifier) sendDM(userID, content string) error {
	ch, err := n.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = n.session.ChannelMessageSendComplex(ch.ID, &discordgo.MessageSend{
		Content: Truncate(content, MaxMessageLength),
	})
	return err
}

func (n *Notifier) logChannel(ctx context.Context, guildID string) (string, bool) {
	if n.channels == nil {
		return "", false
	}
	channelID, err := n.channels.LogChannelID(ctx, guildID)
	if err != nil {
		n.metrics.NotifyFailure("audit_lookup")
		n.log.Warn("Failed to look up log channel", "guild", guildID, "error", err)
		return "", false
	}
	return channelID, channelID != ""
}

// safely runs fn and swallows any panic it raises
func (n *Notifier) safely(kind string, fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		n.metrics.NotifyFailure(kind)
		n.log.Error("Recovered from notifier panic", "kind", kind, "error", r.AsError())
	}
}

// IsDMTooFast reports whether err is Discord's "opening DMs too fast" error
func IsDMTooFast(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == ErrCodeOpeningDMsTooFast
	}
	return false
}

// DescribeRESTError returns slog attributes with the HTTP status, Discord error
// code and a truncated response body when err carries them.
func DescribeRESTError(err error) []any {
	attrs := []any{"error", err}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return attrs
	}
	if restErr.Response != nil {
		attrs = append(attrs, "status", restErr.Response.StatusCode)
	}
	if restErr.Message != nil {
		attrs = append(attrs, "code", restErr.Message.Code)
	}
	if len(restErr.ResponseBody) > 0 {
		attrs = append(attrs, "body", Truncate(string(restErr.ResponseBody), 500))
	}
	return attrs
}

// Truncate caps s at max runes, replacing the tail with an ellipsis when cut
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

// JumpURL links to a message in a guild channel
func JumpURL(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}
