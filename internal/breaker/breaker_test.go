package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/flume/internal/breaker"
	. "github.com/smartystreets/goconvey/convey"
)

var errDown = errors.New("dependency down")

func failing(ctx context.Context) error { return errDown }
func succeeding(ctx context.Context) error { return nil }

func TestBreakerTripping(t *testing.T) {
	Convey("Given a closed breaker with a threshold of 3", t, func() {
		clock := clockwork.NewFakeClock()
		b := breaker.New("enricher",
			breaker.WithFailureThreshold(3),
			breaker.WithResetTimeout(30*time.Second),
			breaker.WithHalfOpenSuccesses(2),
			breaker.WithClock(clock),
		)
		ctx := context.Background()

		Convey("Then it should start closed", func() {
			So(b.State(), ShouldEqual, breaker.Closed)
		})

		Convey("When failures stay below the threshold", func() {
			So(b.Do(ctx, failing), ShouldEqual, errDown)
			So(b.Do(ctx, failing), ShouldEqual, errDown)

			Convey("Then it should remain closed", func() {
				So(b.State(), ShouldEqual, breaker.Closed)
			})
		})

		Convey("When failures reach the threshold", func() {
			for i := 0; i < 3; i++ {
				So(b.Do(ctx, failing), ShouldEqual, errDown)
			}

			Convey("Then it should open", func() {
				So(b.State(), ShouldEqual, breaker.Open)
			})

			Convey("And further calls should be rejected without running", func() {
				ran := false
				err := b.Do(ctx, func(ctx context.Context) error {
					ran = true
					return nil
				})
				So(errors.Is(err, breaker.ErrOpen), ShouldBeTrue)
				So(ran, ShouldBeFalse)
			})
		})

		Convey("When successes are interleaved below the threshold", func() {
			So(b.Do(ctx, failing), ShouldEqual, errDown)
			So(b.Do(ctx, succeeding), ShouldBeNil)
			So(b.Do(ctx, failing), ShouldEqual, errDown)
			So(b.Do(ctx, failing), ShouldEqual, errDown)

			Convey("Then the windowed count should still trip it", func() {
				So(b.State(), ShouldEqual, breaker.Open)
			})
		})
	})
}

func TestBreakerFailureWindow(t *testing.T) {
	Convey("Given a breaker with a short failure window", t, func() {
		clock := clockwork.NewFakeClock()
		b := breaker.New("enricher",
			breaker.WithFailureThreshold(3),
			breaker.WithFailureWindow(10*time.Second),
			breaker.WithClock(clock),
		)
		ctx := context.Background()

		Convey("When old failures age out before the threshold is met", func() {
			So(b.Do(ctx, failing), ShouldEqual, errDown)
			So(b.Do(ctx, failing), ShouldEqual, errDown)
			clock.Advance(11 * time.Second)
			So(b.Do(ctx, failing), ShouldEqual, errDown)

			Convey("Then the breaker should stay closed", func() {
				So(b.State(), ShouldEqual, breaker.Closed)
			})
		})
	})
}

func TestBreakerRecovery(t *testing.T) {
	Convey("Given an open breaker", t, func() {
		clock := clockwork.NewFakeClock()
		b := breaker.New("enricher",
			breaker.WithFailureThreshold(2),
			breaker.WithResetTimeout(30*time.Second),
			breaker.WithHalfOpenSuccesses(2),
			breaker.WithClock(clock),
		)
		ctx := context.Background()
		So(b.Do(ctx, failing), ShouldEqual, errDown)
		So(b.Do(ctx, failing), ShouldEqual, errDown)
		So(b.State(), ShouldEqual, breaker.Open)

		Convey("When the reset timeout has not elapsed", func() {
			clock.Advance(29 * time.Second)

			Convey("Then calls should still be rejected", func() {
				So(errors.Is(b.Do(ctx, succeeding), breaker.ErrOpen), ShouldBeTrue)
			})
		})

		Convey("When the reset timeout elapses", func() {
			clock.Advance(30 * time.Second)

			Convey("Then the breaker should probe half-open", func() {
				So(b.State(), ShouldEqual, breaker.HalfOpen)
			})

			Convey("And enough probe successes should close it", func() {
				So(b.Do(ctx, succeeding), ShouldBeNil)
				So(b.State(), ShouldEqual, breaker.HalfOpen)
				So(b.Do(ctx, succeeding), ShouldBeNil)
				So(b.State(), ShouldEqual, breaker.Closed)
			})

			Convey("And a probe failure should reopen it immediately", func() {
				So(b.Do(ctx, succeeding), ShouldBeNil)
				So(b.Do(ctx, failing), ShouldEqual, errDown)
				So(b.State(), ShouldEqual, breaker.Open)

				Convey("And the next recovery should start from scratch", func() {
					clock.Advance(30 * time.Second)
					So(b.State(), ShouldEqual, breaker.HalfOpen)
					So(b.Do(ctx, succeeding), ShouldBeNil)
					So(b.Do(ctx, succeeding), ShouldBeNil)
					So(b.State(), ShouldEqual, breaker.Closed)
				})
			})
		})
	})
}

func TestBreakerPanicSettlesCall(t *testing.T) {
	panicking := func(ctx context.Context) error { panic("enricher blew up") }

	call := func(b *breaker.Breaker, fn func(ctx context.Context) error) (err error, panicked bool) {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
			}
		}()
		return b.Do(context.Background(), fn), false
	}

	Convey("Given a closed breaker", t, func() {
		clock := clockwork.NewFakeClock()
		b := breaker.New("enricher",
			breaker.WithFailureThreshold(2),
			breaker.WithResetTimeout(30*time.Second),
			breaker.WithHalfOpenSuccesses(1),
			breaker.WithClock(clock),
		)
		ctx := context.Background()

		Convey("When the guarded call panics", func() {
			_, panicked := call(b, panicking)

			Convey("Then the panic should propagate and count as a failure", func() {
				So(panicked, ShouldBeTrue)
				_, panicked = call(b, panicking)
				So(panicked, ShouldBeTrue)
				So(b.State(), ShouldEqual, breaker.Open)
			})
		})

		Convey("When a half-open probe panics", func() {
			So(b.Do(ctx, failing), ShouldEqual, errDown)
			So(b.Do(ctx, failing), ShouldEqual, errDown)
			So(b.State(), ShouldEqual, breaker.Open)
			clock.Advance(30 * time.Second)
			So(b.State(), ShouldEqual, breaker.HalfOpen)

			_, panicked := call(b, panicking)
			So(panicked, ShouldBeTrue)

			Convey("Then the probe slot should settle and the circuit reopen", func() {
				So(b.State(), ShouldEqual, breaker.Open)

				clock.Advance(30 * time.Second)
				So(b.State(), ShouldEqual, breaker.HalfOpen)
				So(b.Do(ctx, succeeding), ShouldBeNil)
				So(b.State(), ShouldEqual, breaker.Closed)
			})
		})
	})
}

func TestBreakerFallback(t *testing.T) {
	Convey("Given an open breaker with a fallback", t, func() {
		clock := clockwork.NewFakeClock()
		fallbackRan := 0
		b := breaker.New("enricher",
			breaker.WithFailureThreshold(1),
			breaker.WithClock(clock),
			breaker.WithFallback(func(ctx context.Context) error {
				fallbackRan++
				return nil
			}),
		)
		ctx := context.Background()
		So(b.Do(ctx, failing), ShouldEqual, errDown)
		So(b.State(), ShouldEqual, breaker.Open)

		Convey("When a call is rejected", func() {
			err := b.Do(ctx, succeeding)

			Convey("Then the fallback should run instead of ErrOpen", func() {
				So(err, ShouldBeNil)
				So(fallbackRan, ShouldEqual, 1)
			})
		})
	})
}

func TestBreakerStateNames(t *testing.T) {
	Convey("Given the breaker states", t, func() {
		Convey("Then each should have a metric-facing name", func() {
			So(breaker.Closed.String(), ShouldEqual, "closed")
			So(breaker.Open.String(), ShouldEqual, "open")
			So(breaker.HalfOpen.String(), ShouldEqual, "half_open")
		})
	})
}
