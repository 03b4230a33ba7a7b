// Package discordtest provides an in-memory stand-in for the parts of the
// Discord REST API the bot uses, for tests.
package discordtest

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Session is a fake guild: roles, members with role IDs, and posted messages.
// Error fields force the matching call to fail.
type Session struct {
	mu sync.Mutex

	GuildID string
	Roles   []*discordgo.Role
	Members map[string][]string // user ID -> role IDs

	Sent    []*discordgo.Message
	Edits   []*discordgo.MessageEdit
	Added   [][2]string // (user ID, role ID)
	Removed [][2]string
	DMs     map[string][]string // user ID -> contents

	SendErr    func(channelID string, data *discordgo.MessageSend) error
	EditErr    error
	RolesErr   error
	RoleAddErr error

	nextID int
}

// NewSession creates a fake guild whose @everyone role carries no permissions
func NewSession(guildID string) *Session {
	return &Session{
		GuildID: guildID,
		Roles:   []*discordgo.Role{{ID: guildID, Name: "@everyone", Position: 0}},
		Members: map[string][]string{},
		DMs:     map[string][]string{},
	}
}

// AddRole appends a role and returns it
func (s *Session) AddRole(id, name string, position int, perms int64) *discordgo.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &discordgo.Role{ID: id, Name: name, Position: position, Permissions: perms}
	s.Roles = append(s.Roles, r)
	return r
}

// AddMember registers a member holding roleIDs
func (s *Session) AddMember(userID string, roleIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Members[userID] = append([]string(nil), roleIDs...)
}

// MemberRoles returns a copy of the member's role IDs
func (s *Session) MemberRoles(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Members[userID]...)
}

// RESTError builds a discordgo REST error with the given status and code
func RESTError(status, code int, body string) error {
	return &discordgo.RESTError{
		Response:     &http.Response{StatusCode: status, Status: strconv.Itoa(status)},
		ResponseBody: []byte(body),
		Message:      &discordgo.APIErrorMessage{Code: code, Message: body},
	}
}

func (s *Session) GuildRoles(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RolesErr != nil {
		return nil, s.RolesErr
	}
	return append([]*discordgo.Role(nil), s.Roles...), nil
}

func (s *Session) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roleIDs, ok := s.Members[userID]
	if !ok {
		return nil, RESTError(http.StatusNotFound, 10007, "Unknown Member")
	}
	return &discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: userID, Username: "user" + userID},
		Roles:   append([]string(nil), roleIDs...),
	}, nil
}

func (s *Session) GuildMemberRoleAdd(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RoleAddErr != nil {
		return s.RoleAddErr
	}
	s.Members[userID] = append(s.Members[userID], roleID)
	s.Added = append(s.Added, [2]string{userID, roleID})
	return nil
}

func (s *Session) GuildMemberRoleRemove(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.Members[userID][:0]
	for _, id := range s.Members[userID] {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	s.Members[userID] = kept
	s.Removed = append(s.Removed, [2]string{userID, roleID})
	return nil
}

func (s *Session) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		if err := s.SendErr(channelID, data); err != nil {
			return nil, err
		}
	}
	s.nextID++
	msg := &discordgo.Message{
		ID:         fmt.Sprintf("msg-%d", s.nextID),
		ChannelID:  channelID,
		GuildID:    s.GuildID,
		Content:    data.Content,
		Embeds:     data.Embeds,
		Components: data.Components,
	}
	if len(data.Embeds) == 0 && data.Embed != nil {
		msg.Embeds = []*discordgo.MessageEmbed{data.Embed}
	}
	if dm, ok := dmRecipient(channelID); ok {
		s.DMs[dm] = append(s.DMs[dm], data.Content)
	}
	s.Sent = append(s.Sent, msg)
	return msg, nil
}

func (s *Session) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EditErr != nil {
		return nil, s.EditErr
	}
	s.Edits = append(s.Edits, m)
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func (s *Session) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm:" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func dmRecipient(channelID string) (string, bool) {
	const prefix = "dm:"
	if len(channelID) > len(prefix) && channelID[:len(prefix)] == prefix {
		return channelID[len(prefix):], true
	}
	return "", false
}
