package hypixel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
)

type skyblockProfilesResponse struct {
	Success  bool   `json:"success"`
	Cause    string `json:"cause"`
	Profiles []struct {
		ProfileID string         `json:"profile_id"`
		CuteName  string         `json:"cute_name"`
		Selected  bool           `json:"selected"`
		Members   map[string]any `json:"members"`
	} `json:"profiles"`
}

// SkyblockStats resolves name, checks Hypixel knows a SkyBlock profile for
// the player, then reads the stats of the most recently saved profile from
// SkyHelper. Mirrors are tried in order, v2 before v1.
func (c *Client) SkyblockStats(ctx context.Context, name string) (promotion.Stats, error) {
	stats, err := c.skyblockStats(ctx, name)
	c.metrics.StatsFetch(err == nil)
	return stats, err
}

func (c *Client) skyblockStats(ctx context.Context, name string) (promotion.Stats, error) {
	uuid, err := c.UUIDForName(ctx, name)
	if err != nil {
		return promotion.Stats{}, err
	}
	if err := c.checkSelectedProfile(ctx, name, uuid); err != nil {
		return promotion.Stats{}, err
	}

	doc, err := c.skyHelperProfiles(ctx, uuid)
	if err != nil {
		return promotion.Stats{}, err
	}

	container := doc
	if data := asMap(doc["data"]); data != nil {
		container = data
	}
	profiles := asSlice(container["profiles"])
	if len(profiles) == 0 {
		return promotion.Stats{}, &APIError{Service: "SkyHelper", StatusCode: 200, Body: "no profiles returned"}
	}

	latest := pickLatestProfile(profiles)
	if latest == nil {
		return promotion.Stats{}, &APIError{Service: "SkyHelper", StatusCode: 200, Body: "could not select a profile"}
	}
	return extractStats(latest), nil
}

func (c *Client) checkSelectedProfile(ctx context.Context, name, uuid string) error {
	endpoint := fmt.Sprintf("%s/skyblock/profiles?uuid=%s", c.hypixelBase, url.QueryEscape(uuid))

	var resp skyblockProfilesResponse
	if err := c.get(ctx, "Hypixel", endpoint, c.hypixelHeaders(), &resp); err != nil {
		return fmt.Errorf("failed to fetch SkyBlock profiles: %w", err)
	}
	if !resp.Success {
		return &APIError{Service: "Hypixel", StatusCode: 200, Body: resp.Cause}
	}
	if len(resp.Profiles) == 0 {
		return fmt.Errorf("no SkyBlock profiles for %s: %w", name, ErrNotFound)
	}

	profile := resp.Profiles[0]
	for _, p := range resp.Profiles {
		if p.Selected {
			profile = p
			break
		}
	}
	if _, ok := profile.Members[uuid]; !ok {
		return fmt.Errorf("no member data for %s in selected profile: %w", name, ErrNotFound)
	}
	return nil
}

func (c *Client) skyHelperProfiles(ctx context.Context, uuid string) (map[string]any, error) {
	var lastErr error
	for _, version := range []string{"v2", "v1"} {
		for _, base := range c.skyHelperBases {
			endpoint := fmt.Sprintf("%s/%s/profiles/%s", base, version, url.PathEscape(uuid))
			if c.skyHelperKey != "" {
				endpoint += "?key=" + url.QueryEscape(c.skyHelperKey)
			}

			var doc map[string]any
			err := c.get(ctx, "SkyHelper", endpoint, c.skyHelperHeaders(), &doc)
			if err == nil {
				return doc, nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = err
		}
	}
	return nil, fmt.Errorf("all SkyHelper mirrors failed: %w", lastErr)
}

// pickLatestProfile returns the profile with the newest last_save. Without
// any timestamps the selected profile, or else the first, wins.
func pickLatestProfile(profiles []any) map[string]any {
	var (
		latest   map[string]any
		latestTS = int64(-1)
		fallback map[string]any
	)
	for _, raw := range profiles {
		p := asMap(raw)
		if p == nil {
			continue
		}
		if fallback == nil || (truthy(p["selected"]) && !truthy(fallback["selected"])) {
			fallback = p
		}
		last := firstTruthy(lookup(p, "data", "last_save"), p["last_save"], lookup(p, "member", "last_save"))
		if last == nil {
			continue
		}
		if ts := int64(toFloat(last)); ts > latestTS {
			latestTS = ts
			latest = p
		}
	}
	if latest == nil {
		return fallback
	}
	return latest
}

// extractStats maps a SkyHelper profile, v1 or v2 shape, to Stats.
// Missing fields read as zero.
func extractStats(profile map[string]any) promotion.Stats {
	d := profile
	if data := asMap(profile["data"]); data != nil {
		d = data
	}

	networth := firstTruthy(lookup(d, "networth", "total"), lookup(d, "networth", "networth"), d["networth_total"])
	sbLevel := firstTruthy(lookup(d, "player", "skyblock_level"), lookup(d, "skyblock_level", "level"), lookup(d, "leveling", "level"))
	skillAvg := firstTruthy(lookup(d, "skills", "average"), lookup(d, "skills", "average_skill_level"), d["skills_average"])

	cata := lookup(d, "dungeons", "catacombs", "level")
	if m := asMap(cata); m != nil {
		cata = m["level"]
	}
	cata = firstTruthy(cata, d["dungeons_catacombs_level"])

	farmWeight := firstTruthy(lookup(d, "farming", "weight"), lookup(d, "weights", "farming"))

	masteries := int(toFloat(d["masteries"]))
	if masteries == 0 {
		masteries = len(asSlice(d["masteries_list"]))
	}

	return promotion.Stats{
		Networth:       int64(toFloat(networth)),
		SkyblockLevel:  toFloat(sbLevel),
		SkillAverage:   toFloat(skillAvg),
		SlayerXP:       slayerXP(d),
		CatacombsLevel: toFloat(cata),
		RiftAllCharms:  riftComplete(d),
		FarmWeight:     int64(toFloat(farmWeight)),
		Masteries:      masteries,
	}
}

func slayerXP(d map[string]any) int64 {
	slayer := asMap(firstTruthy(d["slayer"], d["slayers"]))
	if slayer == nil {
		return 0
	}
	if total, ok := slayer["total_xp"]; ok {
		return int64(toFloat(total))
	}
	var sum int64
	for _, boss := range slayer {
		if m := asMap(boss); m != nil {
			sum += int64(toFloat(m["xp"]))
		}
	}
	return sum
}

func riftComplete(d map[string]any) bool {
	if truthy(lookup(d, "rift", "all_charms")) || truthy(d["rift_charms_complete"]) {
		return true
	}
	charms := asMap(lookup(d, "rift", "charms"))
	if charms == nil {
		return false
	}
	total := 9999.0
	if v, ok := charms["total"]; ok {
		total = toFloat(v)
	}
	return toFloat(charms["completed"]) >= total
}

func lookup(m map[string]any, path ...string) any {
	var cur any = m
	for _, key := range path {
		obj := asMap(cur)
		if obj == nil {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func firstTruthy(values ...any) any {
	for _, v := range values {
		if truthy(v) {
			return v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
}
