package roles_test

import (
	"context"
	"testing"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/discordtest"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/roles"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	guildID = "g1"
	botID   = "bot"
)

func newGuild(t *testing.T) *discordtest.Session {
	t.Helper()
	s := discordtest.NewSession(guildID)
	s.AddRole("r-bot", "SB Masters Bot", 10, discordgo.PermissionManageRoles)
	s.AddRole("r-m1", "Master I", 3, 0)
	s.AddRole("r-m2", "Master II", 4, 0)
	s.AddRole("r-staff", "Staff", 20, 0)
	s.AddMember(botID, "r-bot")
	s.AddMember("u1")
	return s
}

func TestGrantByName(t *testing.T) {
	s := newGuild(t)
	g := roles.NewGranter(s, botID, nil)

	grant, err := g.GrantByName(context.Background(), "approval", guildID, "u1", "master i")

	require.NoError(t, err)
	assert.Equal(t, "r-m1", grant.Role.ID)
	assert.False(t, grant.AlreadyHad)
	assert.Equal(t, []string{"r-m1"}, s.MemberRoles("u1"))
}

func TestGrantIsIdempotent(t *testing.T) {
	s := newGuild(t)
	s.AddMember("u1", "r-m1")
	g := roles.NewGranter(s, botID, nil)

	grant, err := g.GrantByID(context.Background(), "ranksync", guildID, "u1", "r-m1")

	require.NoError(t, err)
	assert.True(t, grant.AlreadyHad)
	assert.Empty(t, s.Added)
}

func TestGrantMissingRole(t *testing.T) {
	g := roles.NewGranter(newGuild(t), botID, nil)

	_, err := g.GrantByName(context.Background(), "approval", guildID, "u1", "Grandmaster")

	assert.ErrorIs(t, err, roles.ErrRoleNotFound)
}

func TestGrantWithoutManageRoles(t *testing.T) {
	s := discordtest.NewSession(guildID)
	s.AddRole("r-bot", "SB Masters Bot", 10, discordgo.PermissionSendMessages)
	s.AddRole("r-m1", "Master I", 3, 0)
	s.AddMember(botID, "r-bot")
	s.AddMember("u1")
	g := roles.NewGranter(s, botID, nil)

	_, err := g.GrantByName(context.Background(), "approval", guildID, "u1", "Master I")

	assert.ErrorIs(t, err, roles.ErrBotMissingPermission)
	assert.Empty(t, s.Added)
}

func TestGrantAboveBotRole(t *testing.T) {
	s := newGuild(t)
	g := roles.NewGranter(s, botID, nil)

	_, err := g.GrantByName(context.Background(), "approval", guildID, "u1", "Staff")

	assert.ErrorIs(t, err, roles.ErrRoleHierarchy)
	assert.Empty(t, s.Added)
}

func TestAdministratorCanManageViaEveryone(t *testing.T) {
	s := discordtest.NewSession(guildID)
	s.Roles[0].Permissions = discordgo.PermissionAdministrator
	s.AddRole("r-bot", "SB Masters Bot", 10, 0)
	s.AddRole("r-m1", "Master I", 3, 0)
	s.AddMember(botID, "r-bot")
	s.AddMember("u1")
	g := roles.NewGranter(s, botID, nil)

	_, err := g.GrantByName(context.Background(), "verify", guildID, "u1", "Master I")

	assert.NoError(t, err)
}

func TestReplaceRemovesOtherManagedRoles(t *testing.T) {
	s := newGuild(t)
	s.AddMember("u1", "r-m1", "r-staff")
	g := roles.NewGranter(s, botID, nil)

	grant, removed, err := g.Replace(context.Background(), "ranksync", guildID, "u1", "r-m2", []string{"r-m1", "r-m2"})

	require.NoError(t, err)
	assert.False(t, grant.AlreadyHad)
	require.Len(t, removed, 1)
	assert.Equal(t, "r-m1", removed[0].ID)
	assert.ElementsMatch(t, []string{"r-staff", "r-m2"}, s.MemberRoles("u1"))
}

func TestFindByName(t *testing.T) {
	list := []*discordgo.Role{{ID: "a", Name: "master"}, {ID: "b", Name: "Master"}}

	assert.Equal(t, "b", roles.FindByName(list, "Master").ID)
	assert.Equal(t, "a", roles.FindByName(list, "MASTER").ID)
	assert.Nil(t, roles.FindByName(list, "other"))
}

func TestCanManageRoles(t *testing.T) {
	assert.True(t, roles.CanManageRoles(discordgo.PermissionManageRoles))
	assert.True(t, roles.CanManageRoles(discordgo.PermissionAdministrator))
	assert.False(t, roles.CanManageRoles(discordgo.PermissionSendMessages))
}
