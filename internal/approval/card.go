package approval

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/bwmarrin/discordgo"
)

// Button custom IDs. They are global so cards stay actionable across restarts.
const (
	ApproveButtonID = "promo:approve"
	RejectButtonID  = "promo:reject"
)

const (
	cardTitle = "Promotion Request"
	cardColor = 0x2ecc71
)

var (
	ignPattern     = regexp.MustCompile(`(?i)IGN:\s*\*\*(.+?)\*\*`)
	rankPattern    = regexp.MustCompile(`(?i)Target Rank:\s*\*\*(.+?)\*\*`)
	statusPattern  = regexp.MustCompile(`(?i)Status:\s*\*\*(Approved|Rejected)\*\*`)
	mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)
)

// Card is the state recovered from a posted approval card
type Card struct {
	Handle   string
	Rank     string
	TargetID string
	Status   promotion.Status // StatusPending unless the card carries a resolution line
}

// Resolved reports whether the card already carries a resolution line
func (c Card) Resolved() bool {
	return c.Status.Terminal()
}

// Describe renders the lines the parser reads back
func Describe(handle, rank string) string {
	return fmt.Sprintf("IGN: **%s**\nTarget Rank: **%s**", handle, rank)
}

// RenderCard builds the rich approval card for req
func RenderCard(req *promotion.Request) *discordgo.MessageSend {
	s := req.Stats
	riftCharms := "Incomplete"
	if s.RiftAllCharms {
		riftCharms = "All"
	}

	embed := &discordgo.MessageEmbed{
		Title:       cardTitle,
		Description: Describe(req.Handle, req.Rank),
		Color:       cardColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Masteries", Value: strconv.Itoa(s.Masteries), Inline: true},
			{Name: "SB Level", Value: formatFloat(s.SkyblockLevel), Inline: true},
			{Name: "Skill Avg", Value: formatFloat(s.SkillAverage), Inline: true},
			{Name: "Cata", Value: formatFloat(s.CatacombsLevel), Inline: true},
			{Name: "Slayer XP", Value: promotion.FormatInt(s.SlayerXP), Inline: true},
			{Name: "Networth", Value: promotion.FormatInt(s.Networth), Inline: true},
			{Name: "Farm Weight", Value: promotion.FormatInt(s.FarmWeight), Inline: true},
			{Name: "Rift Charms", Value: riftCharms, Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "Requested by " + req.RequesterTag},
		Timestamp: req.CreatedAt.UTC().Format(time.RFC3339),
	}

	return &discordgo.MessageSend{
		Content:    mention(req.TargetID),
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: buttons(false),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Users: []string{req.TargetID},
		},
	}
}

// RenderPlainCard builds the minimal text fallback. It still carries the
// mention, the parseable lines and the buttons.
func RenderPlainCard(req *promotion.Request) *discordgo.MessageSend {
	content := fmt.Sprintf("%s\n**%s**\n%s\nRequested by %s",
		mention(req.TargetID), cardTitle, Describe(req.Handle, req.Rank), req.RequesterTag)
	return &discordgo.MessageSend{
		Content:    content,
		Components: buttons(false),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Users: []string{req.TargetID},
		},
	}
}

// ParseCard recovers the card state from msg. The embed description is read
// first and the message content second; the target is the first mention.
func ParseCard(msg *discordgo.Message) (Card, error) {
	if msg == nil {
		return Card{}, ErrCardMalformed
	}

	card := Card{Status: promotion.StatusPending}
	for _, text := range cardTexts(msg) {
		ign := ignPattern.FindStringSubmatch(text)
		rank := rankPattern.FindStringSubmatch(text)
		if ign != nil && rank != nil && card.Handle == "" {
			card.Handle = strings.TrimSpace(ign[1])
			card.Rank = strings.TrimSpace(rank[1])
		}
		if m := statusPattern.FindStringSubmatch(text); m != nil {
			card.Status = promotion.Status(strings.ToLower(m[1]))
		}
	}

	card.TargetID = targetID(msg)

	if card.Handle == "" || card.Rank == "" {
		return card, ErrCardMalformed
	}
	if card.TargetID == "" {
		return card, ErrNoTarget
	}
	return card, nil
}

// resolvedEdit marks the card resolved: a status line plus disabled buttons.
// The mention stays first so the target can still be parsed.
func resolvedEdit(msg *discordgo.Message, status promotion.Status, reviewer string) *discordgo.MessageEdit {
	line := fmt.Sprintf("Status: **%s** by %s", statusLabel(status), reviewer)
	edit := discordgo.NewMessageEdit(msg.ChannelID, msg.ID)
	components := buttons(true)
	edit.Components = &components
	edit.AllowedMentions = &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}

	if len(msg.Embeds) > 0 {
		embeds := make([]*discordgo.MessageEmbed, len(msg.Embeds))
		copy(embeds, msg.Embeds)
		first := *embeds[0]
		first.Description = strings.TrimRight(first.Description, "\n") + "\n" + line
		if status == promotion.StatusRejected {
			first.Color = 0xe74c3c
		} else {
			first.Color = 0x95a5a6
		}
		embeds[0] = &first
		edit.SetEmbeds(embeds)
		return edit
	}

	edit.SetContent(strings.TrimRight(msg.Content, "\n") + "\n" + line)
	return edit
}

func buttons(disabled bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Approve Promotion",
					Style:    discordgo.SuccessButton,
					CustomID: ApproveButtonID,
					Disabled: disabled,
				},
				discordgo.Button{
					Label:    "Reject",
					Style:    discordgo.DangerButton,
					CustomID: RejectButtonID,
					Disabled: disabled,
				},
			},
		},
	}
}

func cardTexts(msg *discordgo.Message) []string {
	var texts []string
	for _, e := range msg.Embeds {
		if e != nil && e.Description != "" {
			texts = append(texts, e.Description)
		}
	}
	if msg.Content != "" {
		texts = append(texts, msg.Content)
	}
	return texts
}

func targetID(msg *discordgo.Message) string {
	if len(msg.Mentions) > 0 && msg.Mentions[0] != nil {
		return msg.Mentions[0].ID
	}
	if m := mentionPattern.FindStringSubmatch(msg.Content); m != nil {
		return m[1]
	}
	return ""
}

func statusLabel(s promotion.Status) string {
	switch s {
	case promotion.StatusApproved:
		return "Approved"
	case promotion.StatusRejected:
		return "Rejected"
	default:
		return string(s)
	}
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
