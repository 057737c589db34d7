package resync_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/okian/potally/internal/domain/match"
	"github.com/okian/potally/internal/domain/model"
	"github.com/okian/potally/internal/domain/resync"
	"github.com/okian/potally/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

func msg(id, author, content string) model.Message {
	return model.Message{ID: id, Author: model.User{ID: author}, Content: content}
}

func policy() match.Policy {
	return match.Policy{Matcher: match.MustNew("po"), CommandPrefix: "!", SelfID: "bot"}
}

type failingHistory struct {
	inner  resync.SliceHistory
	failAt int
	calls  int
}

func (f *failingHistory) Page(ctx context.Context, before string, limit int) ([]model.Message, error) {
	f.calls++
	if f.calls == f.failAt {
		return nil, errors.New("503 service unavailable")
	}
	return f.inner.Page(ctx, before, limit)
}

type cancellingHistory struct {
	inner  resync.SliceHistory
	cancel context.CancelFunc
}

func (c *cancellingHistory) Page(ctx context.Context, before string, limit int) ([]model.Message, error) {
	page, err := c.inner.Page(ctx, before, limit)
	c.cancel()
	return page, err
}

type stuckHistory struct{}

func (stuckHistory) Page(context.Context, string, int) ([]model.Message, error) {
	return []model.Message{msg("1", "a", "po")}, nil
}

func TestRebuild(t *testing.T) {
	Convey("Given a channel history", t, func() {
		history := resync.SliceHistory{
			msg("9", "A", "po"),
			msg("8", "bot", "po po"),
			msg("7", "B", "!po"),
			msg("6", "B", "Po!"),
			msg("5", "C", "poster"),
			msg("4", "A", "po box"),
			msg("3", "C", "PO"),
			msg("2", "A", "nothing"),
			msg("1", "B", "po"),
		}
		ctx := context.Background()

		Convey("When rebuilding with a small page size", func() {
			r := resync.New(policy(), resync.WithPageSize(2))
			res, err := r.Rebuild(ctx, history)

			Convey("Then every page is consumed", func() {
				So(err, ShouldBeNil)
				So(res.Scanned, ShouldEqual, len(history))
				So(res.Pages, ShouldEqual, 5)
			})

			Convey("Then bot and command messages are excluded", func() {
				So(res.Counts, ShouldResemble, []model.CounterRecord{
					{UserID: "A", Count: 2},
					{UserID: "B", Count: 2},
					{UserID: "C", Count: 1},
				})
				So(res.Total(), ShouldEqual, 5)
				So(res.Matched, ShouldResemble, []string{"9", "6", "4", "3", "1"})
			})
		})

		Convey("When the page size changes", func() {
			small, err1 := resync.New(policy(), resync.WithPageSize(1)).Rebuild(ctx, history)
			large, err2 := resync.New(policy(), resync.WithPageSize(100)).Rebuild(ctx, history)

			Convey("Then the tally is identical", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(small.Counts, ShouldResemble, large.Counts)
				So(large.Pages, ShouldEqual, 1)
			})
		})

		Convey("When the history is presented in a different order", func() {
			reversed := make(resync.SliceHistory, len(history))
			for i := range history {
				reversed[len(history)-1-i] = history[i]
			}
			a, _ := resync.New(policy()).Rebuild(ctx, history)
			b, _ := resync.New(policy()).Rebuild(ctx, reversed)

			Convey("Then per-user totals agree", func() {
				toMap := func(recs []model.CounterRecord) map[string]int64 {
					out := make(map[string]int64)
					for _, r := range recs {
						out[r.UserID] = r.Count
					}
					return out
				}
				So(toMap(a.Counts), ShouldResemble, toMap(b.Counts))
			})
		})

		Convey("When the history is empty", func() {
			res, err := resync.New(policy()).Rebuild(ctx, resync.SliceHistory{})

			Convey("Then the result is empty", func() {
				So(err, ShouldBeNil)
				So(res.Counts, ShouldBeEmpty)
				So(res.Pages, ShouldEqual, 0)
			})
		})

		Convey("When a history item has no author", func() {
			h := resync.SliceHistory{msg("2", "a", "po"), msg("1", "", "po")}
			res, err := resync.New(policy()).Rebuild(ctx, h)

			Convey("Then it is skipped and the rest is tallied", func() {
				So(err, ShouldBeNil)
				So(res.Counts, ShouldResemble, []model.CounterRecord{{UserID: "a", Count: 1}})
			})
		})

		Convey("When a page fetch fails midway", func() {
			h := &failingHistory{inner: history, failAt: 2}
			res, err := resync.New(policy(), resync.WithPageSize(3)).Rebuild(ctx, h)

			Convey("Then no partial result is returned", func() {
				So(errors.Is(err, resync.ErrHistory), ShouldBeTrue)
				So(res.Counts, ShouldBeNil)
				So(res.Scanned, ShouldEqual, 0)
			})
		})

		Convey("When the context is cancelled during the scan", func() {
			cctx, cancel := context.WithCancel(ctx)
			h := &cancellingHistory{inner: history, cancel: cancel}
			res, err := resync.New(policy(), resync.WithPageSize(2)).Rebuild(cctx, h)

			Convey("Then the scan aborts", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(res.Counts, ShouldBeNil)
			})
		})

		Convey("When the provider keeps returning the same page", func() {
			_, err := resync.New(policy()).Rebuild(ctx, stuckHistory{})

			Convey("Then the stalled cursor is reported", func() {
				So(errors.Is(err, resync.ErrStalledCursor), ShouldBeTrue)
			})
		})
	})
}

func TestRebuildMatchesLivePath(t *testing.T) {
	Convey("Given a sequence of messages", t, func() {
		var history resync.SliceHistory
		for i := 100; i > 0; i-- {
			content := "hello"
			switch {
			case i%3 == 0:
				content = "po"
			case i%7 == 0:
				content = "!po"
			case i%11 == 0:
				content = "poster"
			}
			history = append(history, msg(fmt.Sprint(i), fmt.Sprintf("u%d", i%4), content))
		}

		Convey("Then the rebuilt tally equals evaluating each message live", func() {
			p := policy()
			live := make(map[string]int64)
			for _, m := range history {
				if p.Evaluate(m) == match.Counted {
					live[m.Author.ID]++
				}
			}

			res, err := resync.New(p, resync.WithPageSize(7)).Rebuild(context.Background(), history)
			So(err, ShouldBeNil)
			rebuilt := make(map[string]int64)
			for _, r := range res.Counts {
				rebuilt[r.UserID] = r.Count
			}
			So(rebuilt, ShouldResemble, live)
		})
	})
}
