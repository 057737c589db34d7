package ranking_test

import (
	"context"
	"testing"

	"github.com/okian/potally/internal/domain/ranking"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFormatter(t *testing.T) {
	f := ranking.Formatter{Token: "po"}

	Convey("Given a store {111:2, 222:7} and an absent requester", t, func() {
		res := ranking.Rank(records("111", 2, "222", 7), ranking.DefaultLimit, "333")
		res = ranking.Resolve(context.Background(), res, mapDirectory{"111": "alice", "222": "bob"})

		Convey("Then the leaderboard lists bob then alice with the not-ranked trailer", func() {
			So(f.Leaderboard(res), ShouldEqual,
				"**Po Leaderboard (Top 3)**\n"+
					"#1: bob with 7 po(s)\n"+
					"#2: alice with 2 po(s)\n"+
					"\n"+
					"You are not on the leaderboard yet. You have 0 po(s).")
		})
	})

	Convey("Given a ranked requester", t, func() {
		res := ranking.Rank(records("111", 2, "222", 7), 1, "111")

		Convey("Then the trailer shows the rank from the full ordering", func() {
			So(f.Trailer(res), ShouldEqual, "Your rank: #2 with 2 po(s).")
		})
	})

	Convey("Given count replies", t, func() {
		So(f.SelfCount("<@111>", 3), ShouldEqual, "<@111>, your current po count is 3.")
		So(f.UserCount("bob", 7), ShouldEqual, "bob has a po count of 7.")
	})
}
