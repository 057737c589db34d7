package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	service "github.com/okian/potally/internal/app"
	"github.com/okian/potally/internal/domain/model"
	"github.com/okian/potally/internal/domain/resync"
	. "github.com/smartystreets/goconvey/convey"
)

// gatedHistory blocks its first page until gate is closed.
type gatedHistory struct {
	resync.SliceHistory
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedHistory(h resync.SliceHistory) *gatedHistory {
	return &gatedHistory{SliceHistory: h, entered: make(chan struct{}), gate: make(chan struct{})}
}

func (g *gatedHistory) Page(ctx context.Context, before string, limit int) ([]model.Message, error) {
	g.once.Do(func() {
		close(g.entered)
		select {
		case <-g.gate:
		case <-ctx.Done():
		}
	})
	return g.SliceHistory.Page(ctx, before, limit)
}

type brokenHistory struct{}

func (brokenHistory) Page(context.Context, string, int) ([]model.Message, error) {
	return nil, errors.New("429 too many requests")
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with an empty state file", t, func() {
		backend, path := fileBackend(t, "")
		svc := service.New(service.WithBackend(backend), service.WithQueueSize(100))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()
		svc.SetSelfID("bot")

		Convey("When messages are observed", func() {
			So(svc.Observe(ctx, chat("1", "alice", "Let's go to the po box")), ShouldBeTrue)
			So(svc.Observe(ctx, chat("2", "bob", "poster")), ShouldBeTrue)
			So(svc.Observe(ctx, chat("3", "bob", "!po")), ShouldBeTrue)
			So(svc.Observe(ctx, chat("4", "bot", "po")), ShouldBeTrue)
			So(svc.Observe(ctx, chat("5", "alice", "PO!")), ShouldBeTrue)
			So(eventually(func() bool { return processed(svc) == 5 }), ShouldBeTrue)

			Convey("Then only whole-word user matches count", func() {
				So(svc.Count(ctx, "alice"), ShouldEqual, 2)
				So(svc.Count(ctx, "bob"), ShouldEqual, 0)
				So(svc.Count(ctx, "bot"), ShouldEqual, 0)
			})

			Convey("Then the counts are on disk after stop", func() {
				svc.Stop()
				data, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, `{"alice": 2}`)
			})
		})

		Convey("When a resync runs over history", func() {
			So(svc.Observe(ctx, chat("x", "mallory", "po")), ShouldBeTrue)
			So(eventually(func() bool { return processed(svc) == 1 }), ShouldBeTrue)

			history := resync.SliceHistory{
				chat("30", "carol", "po"),
				chat("29", "bot", "po"),
				chat("28", "dave", "!pol"),
				chat("27", "dave", "po po"),
				chat("26", "carol", "po"),
			}
			run, err := svc.Resync(ctx, history)

			Convey("Then the mapping is exactly the rebuilt one", func() {
				So(err, ShouldBeNil)
				So(run.ID, ShouldNotBeEmpty)
				So(run.Users, ShouldEqual, 2)
				So(run.Total, ShouldEqual, 3)
				So(run.Scanned, ShouldEqual, 5)
				So(svc.Snapshot(ctx), ShouldResemble, []model.CounterRecord{
					{UserID: "carol", Count: 2}, {UserID: "dave", Count: 1},
				})
				So(svc.Count(ctx, "mallory"), ShouldEqual, 0)

				last, ok := svc.LastResync()
				So(ok, ShouldBeTrue)
				So(last.ID, ShouldEqual, run.ID)
				So(svc.GetStats()["lastResync"], ShouldNotBeNil)
			})

			Convey("Then a redelivered history message is not counted twice", func() {
				So(svc.Observe(ctx, chat("30", "carol", "po")), ShouldBeTrue)
				So(svc.Observe(ctx, chat("31", "carol", "po")), ShouldBeTrue)
				So(eventually(func() bool { return processed(svc) == 3 }), ShouldBeTrue)
				So(svc.Count(ctx, "carol"), ShouldEqual, 3)
			})
		})

		Convey("When history cannot be read", func() {
			So(svc.Observe(ctx, chat("1", "alice", "po")), ShouldBeTrue)
			So(eventually(func() bool { return svc.Count(ctx, "alice") == 1 }), ShouldBeTrue)
			_, err := svc.Resync(ctx, brokenHistory{})

			Convey("Then the counts are untouched and ingestion resumes", func() {
				So(errors.Is(err, resync.ErrHistory), ShouldBeTrue)
				So(svc.Count(ctx, "alice"), ShouldEqual, 1)
				last, _ := svc.LastResync()
				So(last.Error, ShouldNotBeEmpty)

				So(svc.Observe(ctx, chat("2", "alice", "po")), ShouldBeTrue)
				So(eventually(func() bool { return svc.Count(ctx, "alice") == 2 }), ShouldBeTrue)
			})
		})

		Convey("When a resync is already running", func() {
			gated := newGatedHistory(resync.SliceHistory{chat("1", "carol", "po")})
			done := make(chan error, 1)
			go func() {
				_, err := svc.Resync(ctx, gated)
				done <- err
			}()
			<-gated.entered

			Convey("Then a second request is refused", func() {
				_, err := svc.Resync(ctx, resync.SliceHistory{})
				So(errors.Is(err, service.ErrResyncInProgress), ShouldBeTrue)
				_, err = svc.ResyncAsync(resync.SliceHistory{})
				So(errors.Is(err, service.ErrResyncInProgress), ShouldBeTrue)
				So(svc.GetStats()["resyncing"], ShouldEqual, true)

				close(gated.gate)
				So(<-done, ShouldBeNil)
			})
		})

		Convey("When the resync context is cancelled", func() {
			So(svc.Observe(ctx, chat("1", "alice", "po")), ShouldBeTrue)
			So(eventually(func() bool { return svc.Count(ctx, "alice") == 1 }), ShouldBeTrue)

			rctx, rcancel := context.WithCancel(ctx)
			gated := newGatedHistory(resync.SliceHistory{chat("9", "carol", "po")})
			done := make(chan error, 1)
			go func() {
				_, err := svc.Resync(rctx, gated)
				done <- err
			}()
			<-gated.entered
			rcancel()

			Convey("Then nothing is committed", func() {
				So(errors.Is(<-done, context.Canceled), ShouldBeTrue)
				So(svc.Snapshot(ctx), ShouldResemble, []model.CounterRecord{{UserID: "alice", Count: 1}})
			})
		})
	})
}

func TestServiceResyncBufferPolicy(t *testing.T) {
	history := resync.SliceHistory{
		chat("10", "carol", "po"),
		chat("9", "alice", "po"),
	}

	run := func(t *testing.T, policy service.BufferPolicy) *service.Service {
		backend, _ := fileBackend(t, "")
		svc := service.New(service.WithBackend(backend), service.WithBufferPolicy(policy))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)

		gated := newGatedHistory(history)
		done := make(chan error, 1)
		go func() {
			_, err := svc.Resync(ctx, gated)
			done <- err
		}()
		<-gated.entered

		// Arrives while the worker is held: one id the rebuild also sees, one new.
		So(svc.Observe(ctx, chat("10", "carol", "po")), ShouldBeTrue)
		So(svc.Observe(ctx, chat("11", "alice", "po")), ShouldBeTrue)
		close(gated.gate)
		So(<-done, ShouldBeNil)
		So(eventually(func() bool { return processed(svc) == 2 }), ShouldBeTrue)
		return svc
	}

	Convey("Given messages buffered during a resync", t, func() {
		ctx := context.Background()

		Convey("When the policy is discard", func() {
			svc := run(t, service.BufferDiscard)
			defer svc.Stop()

			Convey("Then the rebuilt mapping stands alone", func() {
				So(svc.Count(ctx, "carol"), ShouldEqual, 1)
				So(svc.Count(ctx, "alice"), ShouldEqual, 1)
				last, _ := svc.LastResync()
				So(last.DiscardedThrough, ShouldEqual, 2)
			})
		})

		Convey("When the policy is replay", func() {
			svc := run(t, service.BufferReplay)
			defer svc.Stop()

			Convey("Then new messages are applied once and known ones skipped", func() {
				So(svc.Count(ctx, "carol"), ShouldEqual, 1)
				So(svc.Count(ctx, "alice"), ShouldEqual, 2)
			})
		})
	})
}

func TestServiceResyncAsync(t *testing.T) {
	Convey("Given a started service", t, func() {
		backend, _ := fileBackend(t, "")
		svc := service.New(service.WithBackend(backend))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		Convey("When a resync is started in the background", func() {
			var history resync.SliceHistory
			for i := 250; i > 0; i-- {
				history = append(history, chat(fmt.Sprint(i), fmt.Sprintf("u%d", i%3), "po"))
			}
			id, err := svc.ResyncAsync(history)

			Convey("Then it completes under the returned id", func() {
				So(err, ShouldBeNil)
				So(eventually(func() bool {
					last, ok := svc.LastResync()
					return ok && last.ID == id
				}), ShouldBeTrue)
				last, _ := svc.LastResync()
				So(last.Error, ShouldBeEmpty)
				So(last.Total, ShouldEqual, 250)
				So(last.Pages, ShouldEqual, 3)
			})
		})
	})
}
