package hypixel_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/hypixel"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playerUUID = "069a79f444e94726a5befca90e38aaf5"

const skyHelperV2 = `{
  "status": 200,
  "data": {
    "profiles": [
      {"data": {"last_save": 100, "networth": {"total": 5}}},
      {"data": {
        "last_save": 200,
        "networth": {"total": 2500000000.7},
        "player": {"skyblock_level": 261.4},
        "skills": {"average": 51.25},
        "slayer": {"total_xp": 9000000},
        "dungeons": {"catacombs": {"level": {"level": 44.5}}},
        "rift": {"charms": {"completed": 12, "total": 12}},
        "farming": {"weight": 3210.9},
        "masteries": 88
      }}
    ]
  }
}`

const skyHelperV1 = `{
  "status": 200,
  "profiles": [
    {
      "last_save": 10,
      "networth_total": "1500000",
      "skyblock_level": {"level": 120},
      "skills_average": 30,
      "slayers": {"zombie": {"xp": 1000}, "spider": {"xp": 2500}},
      "dungeons_catacombs_level": 20,
      "rift_charms_complete": false,
      "weights": {"farming": 150},
      "masteries_list": ["a", "b", "c"]
    }
  ]
}`

type upstream struct {
	mux           *http.ServeMux
	server        *httptest.Server
	profileStatus atomic.Int32
	calls         atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{mux: http.NewServeMux()}
	u.mux.HandleFunc("GET /users/profiles/minecraft/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "Notch" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fmt.Fprintf(w, `{"id":%q,"name":"Notch"}`, playerUUID)
	})
	u.mux.HandleFunc("GET /skyblock/profiles", func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		assert.Equal(t, "key", r.Header.Get("API-Key"))
		if status := u.profileStatus.Load(); status != 0 {
			u.profileStatus.Store(0)
			w.WriteHeader(int(status))
			return
		}
		fmt.Fprintf(w, `{"success":true,"profiles":[{"selected":false,"members":{}},{"selected":true,"members":{%q:{}}}]}`, playerUUID)
	})
	u.server = httptest.NewServer(u.mux)
	t.Cleanup(u.server.Close)
	return u
}

func skyHelper(t *testing.T, v2, v1 int, v2Body, v1Body string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, playerUUID, r.PathValue("id"))
		w.WriteHeader(v2)
		fmt.Fprint(w, v2Body)
	})
	mux.HandleFunc("GET /v1/profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(v1)
		fmt.Fprint(w, v1Body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(u *upstream, skyHelperBases ...string) *hypixel.Client {
	return hypixel.NewClient("key",
		hypixel.WithBaseURLs(u.server.URL, u.server.URL),
		hypixel.WithSkyHelper(skyHelperBases, "", ""),
		hypixel.WithRetry(3, time.Millisecond),
		hypixel.WithRateLimit(0),
	)
}

func TestUUIDForName(t *testing.T) {
	u := newUpstream(t)
	c := newClient(u)

	id, err := c.UUIDForName(context.Background(), "Notch")
	require.NoError(t, err)
	assert.Equal(t, playerUUID, id)

	_, err = c.UUIDForName(context.Background(), "nobody")
	assert.ErrorIs(t, err, hypixel.ErrNotFound)
}

func TestSkyblockStatsFromV2(t *testing.T) {
	u := newUpstream(t)
	sh := skyHelper(t, http.StatusOK, http.StatusInternalServerError, skyHelperV2, "")

	stats, err := newClient(u, sh.URL).SkyblockStats(context.Background(), "Notch")

	require.NoError(t, err)
	assert.Equal(t, promotion.Stats{
		Networth:       2_500_000_000,
		SkyblockLevel:  261.4,
		SkillAverage:   51.25,
		SlayerXP:       9_000_000,
		CatacombsLevel: 44.5,
		RiftAllCharms:  true,
		FarmWeight:     3210,
		Masteries:      88,
	}, stats)
}

func TestSkyblockStatsFallsBackToV1(t *testing.T) {
	u := newUpstream(t)
	broken := skyHelper(t, http.StatusNotFound, http.StatusNotFound, "", "")
	mirror := skyHelper(t, http.StatusBadRequest, http.StatusOK, "", skyHelperV1)

	stats, err := newClient(u, broken.URL, mirror.URL).SkyblockStats(context.Background(), "Notch")

	require.NoError(t, err)
	assert.Equal(t, promotion.Stats{
		Networth:       1_500_000,
		SkyblockLevel:  120,
		SkillAverage:   30,
		SlayerXP:       3500,
		CatacombsLevel: 20,
		FarmWeight:     150,
		Masteries:      3,
	}, stats)
}

func TestSkyblockStatsAllMirrorsFail(t *testing.T) {
	u := newUpstream(t)
	sh := skyHelper(t, http.StatusBadRequest, http.StatusBadRequest, "bad", "bad")

	_, err := newClient(u, sh.URL).SkyblockStats(context.Background(), "Notch")

	var apiErr *hypixel.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "SkyHelper", apiErr.Service)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestSkyblockStatsUnknownPlayer(t *testing.T) {
	u := newUpstream(t)

	_, err := newClient(u, u.server.URL).SkyblockStats(context.Background(), "nobody")

	assert.ErrorIs(t, err, hypixel.ErrNotFound)
}

func TestThrottledCallsAreRetried(t *testing.T) {
	u := newUpstream(t)
	u.profileStatus.Store(http.StatusTooManyRequests)
	sh := skyHelper(t, http.StatusOK, http.StatusOK, skyHelperV2, "")

	_, err := newClient(u, sh.URL).SkyblockStats(context.Background(), "Notch")

	require.NoError(t, err)
	assert.Equal(t, int32(2), u.calls.Load())
}

func TestSelectedProfileWithoutMemberIsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/profiles/minecraft/{name}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q}`, playerUUID)
	})
	mux.HandleFunc("GET /skyblock/profiles", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"profiles":[{"selected":true,"members":{"someoneelse":{}}}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := hypixel.NewClient("key", hypixel.WithBaseURLs(srv.URL, srv.URL), hypixel.WithRateLimit(0))

	_, err := c.SkyblockStats(context.Background(), "Notch")

	assert.ErrorIs(t, err, hypixel.ErrNotFound)
}

func TestGuildByPlayer(t *testing.T) {
	u := newUpstream(t)
	u.mux.HandleFunc("GET /guild", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("player") != playerUUID {
			fmt.Fprint(w, `{"success":true,"guild":null}`)
			return
		}
		fmt.Fprintf(w, `{"success":true,"guild":{"_id":"g","name":"Masters","members":[{"uuid":%q,"rank":"Officer"}]}}`, playerUUID)
	})
	c := newClient(u)

	guild, err := c.GuildByPlayer(context.Background(), "Notch")
	require.NoError(t, err)
	assert.Equal(t, "Masters", guild.Name)
	rank, ok := guild.RankOf("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	assert.True(t, ok)
	assert.Equal(t, "OFFICER", rank)

	_, err = c.GuildByPlayer(context.Background(), "00000000000000000000000000000000")
	assert.ErrorIs(t, err, hypixel.ErrNotInGuild)
}

func TestLinkedDiscord(t *testing.T) {
	u := newUpstream(t)
	u.mux.HandleFunc("GET /player", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"player":{"displayname":"Notch","socialMedia":{"links":{"DISCORD":" notch "}}}}`)
	})

	linked, err := newClient(u).LinkedDiscord(context.Background(), playerUUID)

	require.NoError(t, err)
	assert.Equal(t, "notch", linked)
}

func TestIsUUID(t *testing.T) {
	assert.True(t, hypixel.IsUUID(playerUUID))
	assert.True(t, hypixel.IsUUID("069a79f4-44e9-4726-a5be-fca90e38aaf5"))
	assert.False(t, hypixel.IsUUID("Notch"))
}
