package promotion_test

import (
	"testing"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	. "github.com/smartystreets/goconvey/convey"
)

func passingStats() promotion.Stats {
	return promotion.Stats{
		Networth:       2_000_000_000,
		SkyblockLevel:  250,
		SkillAverage:   50.5,
		SlayerXP:       5_000_000,
		CatacombsLevel: 40,
		RiftAllCharms:  true,
		FarmWeight:     2_500,
		Masteries:      75,
	}
}

func baseRequirements() promotion.Requirements {
	return promotion.Requirements{
		Networth:       1_000_000_000,
		SkyblockLevel:  200,
		SkillAverage:   45,
		SlayerXP:       1_000_000,
		CatacombsLevel: 30,
		RiftCharms:     "all",
		FarmWeight:     1_000,
	}
}

func ranks() promotion.RankTable {
	return promotion.RankTable{0: "Member", 50: "Elite", 200: "Legend"}
}

func TestEvaluate(t *testing.T) {
	Convey("Given requirements and a mastery rank table", t, func() {
		reqs := baseRequirements()

		Convey("When every requirement passes", func() {
			stats := passingStats()

			Convey("Then the highest threshold not above the mastery count wins", func() {
				So(promotion.Evaluate(stats, reqs, ranks()), ShouldResemble,
					promotion.Decision{Outcome: promotion.OutcomeAccepted, Rank: "Elite"})

				stats.Masteries = 10
				So(promotion.Evaluate(stats, reqs, ranks()).Rank, ShouldEqual, "Member")

				stats.Masteries = 500
				So(promotion.Evaluate(stats, reqs, ranks()).Rank, ShouldEqual, "Legend")

				stats.Masteries = 50
				So(promotion.Evaluate(stats, reqs, ranks()).Rank, ShouldEqual, "Elite")
			})

			Convey("And the mastery count is below every threshold", func() {
				stats.Masteries = 10
				decision := promotion.Evaluate(stats, reqs, promotion.RankTable{50: "Elite"})

				Convey("Then no rank mapping is reported instead of a rejection", func() {
					So(decision.Outcome, ShouldEqual, promotion.OutcomeNoRankMapping)
					So(decision.Reasons, ShouldBeEmpty)
					So(decision.Rank, ShouldBeEmpty)
				})
			})
		})

		Convey("When several requirements fail", func() {
			stats := passingStats()
			stats.Networth = 10
			stats.SkillAverage = 12.25
			stats.RiftAllCharms = false
			stats.FarmWeight = 999

			decision := promotion.Evaluate(stats, reqs, ranks())

			Convey("Then exactly the failing checks are listed in fixed order", func() {
				So(decision.Outcome, ShouldEqual, promotion.OutcomeRejected)
				So(decision.Reasons, ShouldResemble, []string{
					"Networth < 1,000,000,000",
					"Skill Avg < 45",
					"Rift charms incomplete",
					"Farm Weight < 1,000",
				})
				So(decision.Rank, ShouldBeEmpty)
			})
		})

		Convey("When every requirement fails", func() {
			decision := promotion.Evaluate(promotion.Stats{Masteries: 500}, reqs, ranks())

			Convey("Then all seven checks are reported", func() {
				So(decision.Reasons, ShouldResemble, []string{
					"Networth < 1,000,000,000",
					"SB Level < 200",
					"Skill Avg < 45",
					"Slayer XP < 1,000,000",
					"Cata Lvl < 30",
					"Rift charms incomplete",
					"Farm Weight < 1,000",
				})
			})
		})

		Convey("When rift charms are not required", func() {
			reqs.RiftCharms = "none"
			stats := passingStats()
			stats.RiftAllCharms = false

			Convey("Then incomplete charms do not block the promotion", func() {
				So(promotion.Evaluate(stats, reqs, ranks()).Outcome, ShouldEqual, promotion.OutcomeAccepted)
			})
		})

		Convey("When a fractional level threshold is configured", func() {
			reqs.CatacombsLevel = 30.5
			stats := passingStats()
			stats.CatacombsLevel = 30.4

			Convey("Then the comparison is done on floats", func() {
				So(promotion.Evaluate(stats, reqs, ranks()).Reasons, ShouldResemble, []string{"Cata Lvl < 30.5"})
			})
		})

		Convey("When the same inputs are evaluated twice", func() {
			stats := passingStats()
			stats.Networth = 0

			Convey("Then the decisions are identical", func() {
				So(promotion.Evaluate(stats, reqs, ranks()), ShouldResemble, promotion.Evaluate(stats, reqs, ranks()))
			})
		})
	})
}

func TestRankTableResolve(t *testing.T) {
	Convey("Given an empty rank table", t, func() {
		rank, ok := promotion.RankTable{}.Resolve(100)

		Convey("Then nothing resolves", func() {
			So(ok, ShouldBeFalse)
			So(rank, ShouldBeEmpty)
		})
	})
}

func TestFormatNumber(t *testing.T) {
	Convey("Numbers are rendered with thousands separators", t, func() {
		So(promotion.FormatNumber(1500000), ShouldEqual, "1,500,000")
		So(promotion.FormatNumber(42), ShouldEqual, "42")
		So(promotion.FormatInt(987654321), ShouldEqual, "987,654,321")
	})
}

func TestStatusTerminal(t *testing.T) {
	Convey("Only resolved statuses are terminal", t, func() {
		So(promotion.StatusPending.Terminal(), ShouldBeFalse)
		So(promotion.StatusDispatched.Terminal(), ShouldBeFalse)
		So(promotion.StatusApproved.Terminal(), ShouldBeTrue)
		So(promotion.StatusRejected.Terminal(), ShouldBeTrue)
		So(promotion.StatusConfirmed.Terminal(), ShouldBeTrue)
		So(promotion.StatusFailed.Terminal(), ShouldBeTrue)
	})
}
