package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/contestboard/internal/adapters/cache"
	service "github.com/okian/contestboard/internal/app"
	"github.com/okian/contestboard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (f *fixture) submitted(id, user, mapping string, points int64) model.GradingEvent {
	f.source.AddSubmission(model.Submission{UserID: user, ChallengeMappingID: mapping, Points: points, CreatedAt: time.Now()})
	return model.GradingEvent{EventID: id, ContestID: "C1", UserID: user, ChallengeMappingID: mapping, Points: points}
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service", t, func() {
		f := newFixture(cache.NewMemory(),
			service.WithWorkerCount(4),
			service.WithQueueSize(64),
			service.WithDedupeSize(1000),
			service.WithWorkerRetries(1, time.Millisecond),
		)
		So(f.svc.Start(f.ctx), ShouldBeNil)
		defer func() { _ = f.svc.Stop(f.ctx) }()

		Convey("When graded events are enqueued", func() {
			dup, err := f.svc.Enqueue(f.ctx, f.submitted("e1", "U1", "M1", 3))
			So(err, ShouldBeNil)
			So(dup, ShouldBeFalse)
			_, err = f.svc.Enqueue(f.ctx, f.submitted("e2", "U1", "M2", 4))
			So(err, ShouldBeNil)

			Convey("Then the workers apply them to the store", func() {
				So(eventually(func() bool {
					score, _ := f.store.get("C1", "U1")
					return score == 7
				}), ShouldBeTrue)
			})

			Convey("Then a redelivered event is reported as a duplicate", func() {
				dup, err := f.svc.Enqueue(f.ctx, model.GradingEvent{
					EventID: "e1", ContestID: "C1", UserID: "U1", ChallengeMappingID: "M1", Points: 3,
				})
				So(err, ShouldBeNil)
				So(dup, ShouldBeTrue)
			})
		})

		Convey("When an event arrives without an ID", func() {
			e := f.submitted("", "U2", "M1", 5)
			first, err := f.svc.Enqueue(f.ctx, e)
			So(err, ShouldBeNil)
			second, err := f.svc.Enqueue(f.ctx, e)
			So(err, ShouldBeNil)

			Convey("Then the derived ID deduplicates the redelivery", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
			})
		})

		Convey("When an invalid event is enqueued", func() {
			_, err := f.svc.Enqueue(f.ctx, model.GradingEvent{EventID: "bad", ContestID: "C1"})

			Convey("Then it is rejected up front", func() {
				So(errors.Is(err, service.ErrInvalidEvent), ShouldBeTrue)
			})
		})

		Convey("When an event names a challenge outside the contest", func() {
			_, err := f.svc.Enqueue(f.ctx, model.GradingEvent{
				EventID: "foreign", ContestID: "C1", UserID: "U1", ChallengeMappingID: "M9", Points: 1,
			})
			So(err, ShouldBeNil)

			Convey("Then the worker drops it and forgets the ID", func() {
				So(eventually(func() bool {
					dup, err := f.svc.Enqueue(f.ctx, model.GradingEvent{
						EventID: "foreign", ContestID: "C1", UserID: "U1", ChallengeMappingID: "M9", Points: 1,
					})
					return err == nil && !dup
				}), ShouldBeTrue)
			})
		})

		Convey("When many events are enqueued concurrently", func() {
			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					user := fmt.Sprintf("P%02d", i)
					_, err := f.svc.Enqueue(f.ctx, f.submitted("c-"+user, user, "M1", int64(i)))
					if err != nil {
						t.Errorf("enqueue %s: %v", user, err)
					}
				}(i)
			}
			wg.Wait()

			Convey("Then every participant is ranked", func() {
				So(eventually(func() bool {
					rows, err := f.store.TopN(f.ctx, "C1", 100)
					return err == nil && len(rows) == 20
				}), ShouldBeTrue)
				lb, err := f.svc.GetLeaderboard(f.ctx, "C1", 20)
				So(err, ShouldBeNil)
				So(lb.Entries, ShouldHaveLength, 20)
				So(lb.Entries[0].UserID, ShouldEqual, "P19")
				So(lb.Entries[19].Score, ShouldEqual, 0)
			})
		})

		Convey("When stats are requested", func() {
			stats := f.svc.GetStats()

			Convey("Then they describe the running pipeline", func() {
				So(stats["started"], ShouldEqual, true)
				So(stats["workerCount"], ShouldEqual, 4)
				So(stats["queueSize"], ShouldEqual, 64)
				So(stats, ShouldContainKey, "queueLength")
			})
		})

		Convey("When the service is stopped", func() {
			So(f.svc.Stop(f.ctx), ShouldBeNil)
			_, err := f.svc.Enqueue(f.ctx, f.submitted("late", "U1", "M1", 1))

			Convey("Then intake is refused", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(f.svc.GetStats()["started"], ShouldEqual, false)
			})

			Convey("Then it can be started again", func() {
				So(f.svc.Start(f.ctx), ShouldBeNil)
				_, err := f.svc.Enqueue(f.ctx, f.submitted("again", "U1", "M1", 1))
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestServiceBackpressure(t *testing.T) {
	Convey("Given one worker stuck on a slow store write and a one-slot queue", t, func() {
		f := newFixture(cache.NewMemory(), service.WithWorkerCount(1), service.WithQueueSize(1))
		f.store.entered = make(chan struct{}, 10)
		f.store.release = make(chan struct{})
		So(f.svc.Start(f.ctx), ShouldBeNil)

		_, err := f.svc.Enqueue(f.ctx, f.submitted("b1", "U1", "M1", 1))
		So(err, ShouldBeNil)
		select {
		case <-f.store.entered:
		case <-time.After(3 * time.Second):
			t.Fatal("worker never reached the store")
		}

		// b2 is taken off the channel by the dequeue goroutine, b3 fills the slot
		_, err = f.svc.Enqueue(f.ctx, f.submitted("b2", "U1", "M1", 2))
		So(err, ShouldBeNil)
		So(eventually(func() bool { return f.svc.GetStats()["queueLength"] == 0 }), ShouldBeTrue)
		_, err = f.svc.Enqueue(f.ctx, f.submitted("b3", "U1", "M1", 3))
		So(err, ShouldBeNil)

		Convey("When another event arrives", func() {
			_, err := f.svc.Enqueue(f.ctx, f.submitted("b4", "U1", "M1", 4))

			Convey("Then backpressure is reported and the event can be redelivered later", func() {
				So(errors.Is(err, service.ErrBackpressure), ShouldBeTrue)

				close(f.store.release)
				So(eventually(func() bool {
					_, err := f.svc.Enqueue(f.ctx, model.GradingEvent{
						EventID: "b4", ContestID: "C1", UserID: "U1", ChallengeMappingID: "M1", Points: 4,
					})
					return err == nil
				}), ShouldBeTrue)
				So(f.svc.Stop(f.ctx), ShouldBeNil)
			})
		})
	})
}

func TestServiceNotStarted(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		f := newFixture(cache.NewMemory())

		Convey("When an event is enqueued", func() {
			_, err := f.svc.Enqueue(f.ctx, f.submitted("x", "U1", "M1", 1))

			Convey("Then ErrNotStarted is returned", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(f.svc.Stop(f.ctx), ShouldBeNil)
			})
		})
	})
}

func TestServiceStopDrainsAfterStartContextEnds(t *testing.T) {
	Convey("Given one worker holding the first of three accepted events", t, func() {
		f := newFixture(cache.NewMemory(), service.WithWorkerCount(1), service.WithQueueSize(8))
		f.store.entered = make(chan struct{}, 10)
		f.store.release = make(chan struct{})
		startCtx, cancel := context.WithCancel(f.ctx)
		defer cancel()
		So(f.svc.Start(startCtx), ShouldBeNil)

		for i, user := range []string{"U1", "U2", "U3"} {
			_, err := f.svc.Enqueue(f.ctx, f.submitted(fmt.Sprintf("s%d", i), user, "M1", int64(i+1)))
			So(err, ShouldBeNil)
		}
		select {
		case <-f.store.entered:
		case <-time.After(3 * time.Second):
			t.Fatal("worker never reached the store")
		}

		Convey("When the start context is cancelled before Stop", func() {
			cancel()
			time.Sleep(20 * time.Millisecond)
			close(f.store.release)
			So(f.svc.Stop(context.Background()), ShouldBeNil)

			Convey("Then every accepted event is still applied", func() {
				for i, user := range []string{"U1", "U2", "U3"} {
					score, ok := f.store.get("C1", user)
					So(ok, ShouldBeTrue)
					So(score, ShouldEqual, int64(i+1))
				}
			})
		})
	})
}
