package match_test

import (
	"errors"
	"testing"

	"github.com/okian/potally/internal/domain/match"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMatcher_Matches(t *testing.T) {
	Convey("Given a matcher for the default token", t, func() {
		m := match.MustNew(match.DefaultToken)

		Convey("Then standalone occurrences match in any case", func() {
			for _, text := range []string{
				"po",
				"Po!",
				"PO",
				"pO?",
				"Let's go to the po box",
				"po po po",
				"(po)",
				"\"po\"",
				"po.",
				"hello\npo\nworld",
				"po_box is not po_ but this po is",
			} {
				So(m.Matches(text), ShouldBeTrue)
			}
		})

		Convey("Then substrings never match", func() {
			for _, text := range []string{
				"",
				"poster",
				"post",
				"spoon",
				"tempo",
				"po_box",
				"po1",
				"1po",
				"épo",
				"poé",
				"p o",
			} {
				So(m.Matches(text), ShouldBeFalse)
			}
		})
	})

	Convey("Given a multi-character custom token", t, func() {
		m := match.MustNew("Kudos")

		Convey("Then matching is case-insensitive and bounded", func() {
			So(m.Token(), ShouldEqual, "Kudos")
			So(m.Matches("big KUDOS to you"), ShouldBeTrue)
			So(m.Matches("kudosville"), ShouldBeFalse)
		})
	})
}

func TestNew_InvalidToken(t *testing.T) {
	Convey("Given tokens that are not a single word", t, func() {
		for _, token := range []string{"", "   ", "po box", "po!", "a.b"} {
			_, err := match.New(token)
			So(errors.Is(err, match.ErrInvalidToken), ShouldBeTrue)
		}
	})
}
