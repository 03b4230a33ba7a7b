package hypixel

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$|^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Profile is a Mojang profile
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsUUID reports whether s is a player UUID, with or without dashes
func IsUUID(s string) bool {
	return uuidPattern.MatchString(s)
}

// UUIDForName resolves a Minecraft username to its UUID without dashes
func (c *Client) UUIDForName(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/users/profiles/minecraft/%s", c.mojangBase, url.PathEscape(name))

	var profile Profile
	if err := c.get(ctx, "Mojang", endpoint, nil, &profile); err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	if profile.ID == "" {
		return "", fmt.Errorf("failed to resolve %s: %w", name, ErrNotFound)
	}

	return strings.ReplaceAll(profile.ID, "-", ""), nil
}

// resolveUUID accepts either a username or a UUID
func (c *Client) resolveUUID(ctx context.Context, nameOrUUID string) (string, error) {
	if IsUUID(nameOrUUID) {
		return strings.ReplaceAll(nameOrUUID, "-", ""), nil
	}
	return c.UUIDForName(ctx, nameOrUUID)
}

type playerResponse struct {
	Success bool `json:"success"`
	Player  *struct {
		DisplayName string `json:"displayname"`
		SocialMedia struct {
			Links map[string]string `json:"links"`
		} `json:"socialMedia"`
	} `json:"player"`
}

// LinkedDiscord returns the Discord name linked in the player's Hypixel
// social settings. An empty string means nothing is linked.
func (c *Client) LinkedDiscord(ctx context.Context, uuid string) (string, error) {
	endpoint := fmt.Sprintf("%s/player?uuid=%s", c.hypixelBase, url.QueryEscape(uuid))

	var resp playerResponse
	if err := c.get(ctx, "Hypixel", endpoint, c.hypixelHeaders(), &resp); err != nil {
		return "", fmt.Errorf("failed to fetch player: %w", err)
	}
	if !resp.Success {
		return "", &APIError{Service: "Hypixel", StatusCode: 200, Body: "success=false"}
	}
	if resp.Player == nil {
		return "", fmt.Errorf("player %s: %w", uuid, ErrNotFound)
	}

	return strings.TrimSpace(resp.Player.SocialMedia.Links["DISCORD"]), nil
}
