package promotion

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Mode selects how an accepted promotion is carried out
type Mode string

const (
	ModeDiscordOnly Mode = "discord-only"
	ModeAutoMC      Mode = "auto-mc"
)

// Stats is a snapshot of a player's SkyBlock progress at evaluation time
type Stats struct {
	Networth       int64
	SkyblockLevel  float64
	SkillAverage   float64
	SlayerXP       int64
	CatacombsLevel float64
	RiftAllCharms  bool
	FarmWeight     int64
	Masteries      int
}

// Requirements are the minimum thresholds a player must meet.
// All thresholds are compared as float64.
type Requirements struct {
	Networth       float64 `koanf:"networth"`
	SkyblockLevel  float64 `koanf:"sb_level"`
	SkillAverage   float64 `koanf:"skill_avg"`
	SlayerXP       float64 `koanf:"slayer_xp"`
	CatacombsLevel float64 `koanf:"cata_lvl"`
	RiftCharms     string  `koanf:"rift_charms"`
	FarmWeight     float64 `koanf:"farm_weight"`
}

// RequiresAllRiftCharms reports whether full rift charm completion is demanded
func (r Requirements) RequiresAllRiftCharms() bool {
	return r.RiftCharms == "all"
}

// RankTable maps a mastery count threshold to a rank name
type RankTable map[int]string

// Resolve returns the rank of the highest threshold not above masteries
func (t RankTable) Resolve(masteries int) (string, bool) {
	thresholds := make([]int, 0, len(t))
	for threshold := range t {
		thresholds = append(thresholds, threshold)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))

	for _, threshold := range thresholds {
		if masteries >= threshold {
			return t[threshold], true
		}
	}
	return "", false
}

// Outcome is the kind of decision Evaluate produced
type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeNoRankMapping
	OutcomeAccepted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeNoRankMapping:
		return "no_rank_mapping"
	case OutcomeAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating stats against requirements
type Decision struct {
	Outcome Outcome
	Reasons []string // failing checks, set when Outcome is OutcomeRejected
	Rank    string   // set when Outcome is OutcomeAccepted
}

// Evaluate checks every requirement and, if all pass, resolves the target rank.
// Checks are never short-circuited so every failure is reported.
func Evaluate(stats Stats, reqs Requirements, ranks RankTable) Decision {
	var failed []string

	if float64(stats.Networth) < reqs.Networth {
		failed = append(failed, "Networth < "+FormatNumber(reqs.Networth))
	}
	if stats.SkyblockLevel < reqs.SkyblockLevel {
		failed = append(failed, "SB Level < "+formatPlain(reqs.SkyblockLevel))
	}
	if stats.SkillAverage < reqs.SkillAverage {
		failed = append(failed, "Skill Avg < "+formatPlain(reqs.SkillAverage))
	}
	if float64(stats.SlayerXP) < reqs.SlayerXP {
		failed = append(failed, "Slayer XP < "+FormatNumber(reqs.SlayerXP))
	}
	if stats.CatacombsLevel < reqs.CatacombsLevel {
		failed = append(failed, "Cata Lvl < "+formatPlain(reqs.CatacombsLevel))
	}
	if reqs.RequiresAllRiftCharms() && !stats.RiftAllCharms {
		failed = append(failed, "Rift charms incomplete")
	}
	if float64(stats.FarmWeight) < reqs.FarmWeight {
		failed = append(failed, "Farm Weight < "+FormatNumber(reqs.FarmWeight))
	}

	if len(failed) > 0 {
		return Decision{Outcome: OutcomeRejected, Reasons: failed}
	}

	rank, ok := ranks.Resolve(stats.Masteries)
	if !ok {
		return Decision{Outcome: OutcomeNoRankMapping}
	}
	return Decision{Outcome: OutcomeAccepted, Rank: rank}
}

var printer = message.NewPrinter(language.English)

// FormatNumber renders v with thousands separators, e.g. 1,500,000.
// Fractional values keep their decimals.
func FormatNumber(v float64) string {
	if v == float64(int64(v)) {
		return printer.Sprintf("%d", int64(v))
	}
	return printer.Sprintf("%v", v)
}

// FormatInt renders n with thousands separators
func FormatInt(n int64) string {
	return printer.Sprintf("%d", n)
}

func formatPlain(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Status is the lifecycle state of a Request
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusDispatched Status = "dispatched"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusConfirmed, StatusFailed:
		return true
	default:
		return false
	}
}

// Request is one promotion decision that passed the requirements
type Request struct {
	ID           string
	GuildID      string
	RequesterID  string
	RequesterTag string
	TargetID     string
	Handle       string
	Rank         string
	Stats        Stats
	CreatedAt    time.Time
}

// NewRequest creates a Request with a fresh ID
func NewRequest(guildID, requesterID, requesterTag, targetID, handle, rank string, stats Stats) *Request {
	return &Request{
		ID:           uuid.NewString(),
		GuildID:      guildID,
		RequesterID:  requesterID,
		RequesterTag: requesterTag,
		TargetID:     targetID,
		Handle:       handle,
		Rank:         rank,
		Stats:        stats,
		CreatedAt:    time.Now(),
	}
}
