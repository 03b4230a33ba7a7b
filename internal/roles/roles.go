// Package roles resolves guild roles and grants them with the checks Discord
// would otherwise reject: bot permission and role hierarchy.
package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/metrics"
	"github.com/bwmarrin/discordgo"
)

var (
	ErrRoleNotFound         = errors.New("role not found")
	ErrBotMissingPermission = errors.New("bot lacks the Manage Roles permission")
	ErrRoleHierarchy        = errors.New("role is not below the bot's highest role")
)

// Session is the subset of discordgo.Session used for role management
type Session interface {
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
}

// Granter grants roles on behalf of the bot user
type Granter struct {
	session   Session
	botUserID string
	metrics   *metrics.Recorder
}

// NewGranter creates a Granter acting as botUserID
func NewGranter(session Session, botUserID string, rec *metrics.Recorder) *Granter {
	return &Granter{session: session, botUserID: botUserID, metrics: rec}
}

// Grant is the outcome of a successful grant
type Grant struct {
	Role       *discordgo.Role
	AlreadyHad bool
}

// CanManageRoles reports whether perms include Manage Roles or Administrator
func CanManageRoles(perms int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&discordgo.PermissionManageRoles != 0
}

// FindByName returns the role named name. An exact match wins over a
// case-insensitive one.
func FindByName(roles []*discordgo.Role, name string) *discordgo.Role {
	var folded *discordgo.Role
	for _, r := range roles {
		if r.Name == name {
			return r
		}
		if folded == nil && strings.EqualFold(r.Name, name) {
			folded = r
		}
	}
	return folded
}

// FindByID returns the role with the given ID
func FindByID(roles []*discordgo.Role, id string) *discordgo.Role {
	for _, r := range roles {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// GrantByName resolves roleName and grants it to userID.
// source labels the grant in metrics (approval, bridge, ranksync, verify).
func (g *Granter) GrantByName(ctx context.Context, source, guildID, userID, roleName string) (*Grant, error) {
	guildRoles, err := g.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		g.metrics.RoleGrant(source, "error")
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	role := FindByName(guildRoles, roleName)
	if role == nil {
		g.metrics.RoleGrant(source, "role_missing")
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, roleName)
	}
	return g.grant(ctx, source, guildID, userID, role, guildRoles)
}

// GrantByID grants the role with roleID to userID
func (g *Granter) GrantByID(ctx context.Context, source, guildID, userID, roleID string) (*Grant, error) {
	guildRoles, err := g.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		g.metrics.RoleGrant(source, "error")
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	role := FindByID(guildRoles, roleID)
	if role == nil {
		g.metrics.RoleGrant(source, "role_missing")
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	return g.grant(ctx, source, guildID, userID, role, guildRoles)
}

// Replace grants roleID to userID and removes any other role in managed that
// the member holds. It returns the removed roles.
func (g *Granter) Replace(ctx context.Context, source, guildID, userID, roleID string, managed []string) (*Grant, []*discordgo.Role, error) {
	guildRoles, err := g.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list roles: %w", err)
	}
	role := FindByID(guildRoles, roleID)
	if role == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	if err := g.CheckManageable(ctx, guildID, role, guildRoles); err != nil {
		return nil, nil, err
	}

	member, err := g.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch member: %w", err)
	}

	var removed []*discordgo.Role
	for _, held := range member.Roles {
		if held == roleID || !contains(managed, held) {
			continue
		}
		if err := g.session.GuildMemberRoleRemove(guildID, userID, held, discordgo.WithContext(ctx)); err != nil {
			return nil, removed, fmt.Errorf("failed to remove role %s: %w", held, err)
		}
		if r := FindByID(guildRoles, held); r != nil {
			removed = append(removed, r)
		}
	}

	grant, err := g.addIfMissing(ctx, source, guildID, userID, member, role)
	return grant, removed, err
}

// CheckManageable verifies the bot can assign role: it needs Manage Roles and
// a top role strictly above role.
func (g *Granter) CheckManageable(ctx context.Context, guildID string, role *discordgo.Role, guildRoles []*discordgo.Role) error {
	bot, err := g.session.GuildMember(guildID, g.botUserID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch bot member: %w", err)
	}

	var perms int64
	top := -1
	if everyone := FindByID(guildRoles, guildID); everyone != nil {
		perms |= everyone.Permissions
	}
	for _, id := range bot.Roles {
		r := FindByID(guildRoles, id)
		if r == nil {
			continue
		}
		perms |= r.Permissions
		if r.Position > top {
			top = r.Position
		}
	}

	if !CanManageRoles(perms) {
		return ErrBotMissingPermission
	}
	if role.Position >= top {
		return fmt.Errorf("%w: %s", ErrRoleHierarchy, role.Name)
	}
	return nil
}

func (g *Granter) grant(ctx context.Context, source, guildID, userID string, role *discordgo.Role, guildRoles []*discordgo.Role) (*Grant, error) {
	if err := g.CheckManageable(ctx, guildID, role, guildRoles); err != nil {
		g.metrics.RoleGrant(source, "forbidden")
		return nil, err
	}

	member, err := g.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		g.metrics.RoleGrant(source, "error")
		return nil, fmt.Errorf("failed to fetch member: %w", err)
	}
	return g.addIfMissing(ctx, source, guildID, userID, member, role)
}

func (g *Granter) addIfMissing(ctx context.Context, source, guildID, userID string, member *discordgo.Member, role *discordgo.Role) (*Grant, error) {
	if contains(member.Roles, role.ID) {
		g.metrics.RoleGrant(source, "already_held")
		return &Grant{Role: role, AlreadyHad: true}, nil
	}

	if err := g.session.GuildMemberRoleAdd(guildID, userID, role.ID, discordgo.WithContext(ctx)); err != nil {
		g.metrics.RoleGrant(source, "error")
		return nil, fmt.Errorf("failed to add role %s: %w", role.Name, err)
	}
	g.metrics.RoleGrant(source, "granted")
	return &Grant{Role: role}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
