package hypixel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Guild is a Hypixel guild
type Guild struct {
	ID      string        `json:"_id"`
	Name    string        `json:"name"`
	Tag     string        `json:"tag"`
	Members []GuildMember `json:"members"`
}

// GuildMember is one entry of a guild's member list
type GuildMember struct {
	UUID   string `json:"uuid"`
	Rank   string `json:"rank"`
	Joined int64  `json:"joined"`
}

// RankOf returns the upper-cased guild rank of the player with uuid
func (g *Guild) RankOf(uuid string) (string, bool) {
	uuid = strings.ReplaceAll(uuid, "-", "")
	for _, m := range g.Members {
		if strings.EqualFold(strings.ReplaceAll(m.UUID, "-", ""), uuid) {
			rank := strings.ToUpper(strings.TrimSpace(m.Rank))
			return rank, rank != ""
		}
	}
	return "", false
}

type guildResponse struct {
	Success bool   `json:"success"`
	Cause   string `json:"cause"`
	Guild   *Guild `json:"guild"`
}

// GuildByPlayer returns the guild of a player given by username or UUID
func (c *Client) GuildByPlayer(ctx context.Context, nameOrUUID string) (*Guild, error) {
	uuid, err := c.resolveUUID(ctx, nameOrUUID)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/guild?player=%s", c.hypixelBase, url.QueryEscape(uuid))

	var resp guildResponse
	if err := c.get(ctx, "Hypixel", endpoint, c.hypixelHeaders(), &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch guild: %w", err)
	}
	if !resp.Success {
		return nil, &APIError{Service: "Hypixel", StatusCode: 200, Body: resp.Cause}
	}
	if resp.Guild == nil {
		return nil, ErrNotInGuild
	}

	return resp.Guild, nil
}
