package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/config"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/smartystreets/goconvey/convey"
)

const roleJSON = `{
  "mode": "Discord-Only",
  "requirements": {
    "networth": 1000000000,
    "sb_level": 200,
    "skill_avg": 45.5,
    "slayer_xp": 5000000,
    "cata_lvl": 30,
    "rift_charms": "all",
    "farm_weight": 1000
  },
  "mastery_ranks": {"0": "Member", "50": "Elite", "200": "Legend"},
  "bridge_url": "http://bridge.local/promote"
}`

const roleYAML = `
mode: auto-mc
requirements:
  networth: 1500000
  rift_charms: none
mastery_ranks:
  10: Initiate
bridge_url: http://bridge.local
bridge_token: secret
bridge_timeout_seconds: 20
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearPromoEnv() {
	for _, key := range []string{"PROMO_MODE", "PROMO_REQUIREMENTS__SB_LEVEL", "PROMO_BRIDGE_TOKEN"} {
		_ = os.Unsetenv(key)
	}
}

func TestLoadRoles(t *testing.T) {
	convey.Convey("Given a role config loader", t, func() {
		clearPromoEnv()
		convey.Convey("When loading the JSON role file", func() {
			roles, err := config.LoadRoles(writeFile(t, "roles.json", roleJSON))

			convey.Convey("Then thresholds, ranks and mode are read", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(roles.Mode, convey.ShouldEqual, promotion.ModeDiscordOnly)
				convey.So(roles.Requirements.Networth, convey.ShouldEqual, 1e9)
				convey.So(roles.Requirements.SkillAverage, convey.ShouldEqual, 45.5)
				convey.So(roles.Requirements.RequiresAllRiftCharms(), convey.ShouldBeTrue)
				convey.So(roles.Ranks, convey.ShouldResemble, promotion.RankTable{0: "Member", 50: "Elite", 200: "Legend"})
				convey.So(roles.BridgeTimeout(), convey.ShouldEqual, time.Duration(0))
			})
		})

		convey.Convey("When loading a YAML role file", func() {
			roles, err := config.LoadRoles(writeFile(t, "roles.yaml", roleYAML))

			convey.Convey("Then integer rank keys and bridge settings are read", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(roles.Mode, convey.ShouldEqual, promotion.ModeAutoMC)
				convey.So(roles.Ranks, convey.ShouldResemble, promotion.RankTable{10: "Initiate"})
				convey.So(roles.Requirements.RequiresAllRiftCharms(), convey.ShouldBeFalse)
				convey.So(roles.BridgeToken, convey.ShouldEqual, "secret")
				convey.So(roles.BridgeTimeout(), convey.ShouldEqual, 20*time.Second)
			})
		})

		convey.Convey("When environment overrides are set", func() {
			t.Setenv("PROMO_MODE", "auto-mc")
			t.Setenv("PROMO_REQUIREMENTS__SB_LEVEL", "250")
			t.Setenv("PROMO_BRIDGE_TOKEN", "from-env")

			roles, err := config.LoadRoles(writeFile(t, "roles.json", roleJSON))

			convey.Convey("Then they win over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(roles.Mode, convey.ShouldEqual, promotion.ModeAutoMC)
				convey.So(roles.Requirements.SkyblockLevel, convey.ShouldEqual, 250)
				convey.So(roles.Requirements.Networth, convey.ShouldEqual, 1e9)
				convey.So(roles.BridgeToken, convey.ShouldEqual, "from-env")
			})
		})

		convey.Convey("When the mode is unknown", func() {
			_, err := config.LoadRoles(writeFile(t, "roles.json", `{"mode": "manual"}`))

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "manual")
			})
		})

		convey.Convey("When a mastery threshold is not a number", func() {
			_, err := config.LoadRoles(writeFile(t, "roles.json", `{"mastery_ranks": {"many": "Elite"}}`))

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the file does not exist", func() {
			_, err := config.LoadRoles(filepath.Join(t.TempDir(), "missing.json"))

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestLoad(t *testing.T) {
	convey.Convey("Given process environment", t, func() {
		t.Setenv("DISCORD_TOKEN", "token")
		t.Setenv("HYPIXEL_API_KEY", "key")
		t.Setenv("ADMIN_ROLE_IDS", "123, abc,456,")
		t.Setenv("SKYHELPER_API_URLS", "https://a.example , https://b.example")
		t.Setenv("DM_INTERVAL_MS", "500")
		t.Setenv("DM_BACKOFF_MS", "")

		convey.Convey("When loading", func() {
			cfg, err := config.Load()

			convey.Convey("Then lists and durations are parsed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.AdminRoleIDs, convey.ShouldResemble, []string{"123", "456"})
				convey.So(cfg.SkyHelperURLs, convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
				convey.So(cfg.DMInterval, convey.ShouldEqual, 500*time.Millisecond)
				convey.So(cfg.DMBackoff, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.DMMaxRetries, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the token is missing", func() {
			t.Setenv("DISCORD_TOKEN", "")
			_, err := config.Load()

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When a throttle value is invalid", func() {
			t.Setenv("DM_BACKOFF_MS", "soon")
			_, err := config.Load()

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}
