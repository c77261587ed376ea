package retry_test

import (
	"testing"
	"time"

	"github.com/okian/flume/internal/domain/faults"
	"github.com/okian/flume/internal/domain/retry"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPolicyDefaults(t *testing.T) {
	Convey("Given a policy with default options", t, func() {
		p := retry.NewPolicy()

		Convey("Then it should carry the documented defaults", func() {
			So(p.MaxRetries, ShouldEqual, retry.DefaultMaxRetries)
			So(p.Base, ShouldEqual, retry.DefaultBaseBackoff)
			So(p.Max, ShouldEqual, retry.DefaultMaxBackoff)
			So(p.JitterRatio, ShouldEqual, retry.DefaultJitterRatio)
		})
	})

	Convey("Given a policy with custom options", t, func() {
		p := retry.NewPolicy(
			retry.WithMaxRetries(2),
			retry.WithBackoffBounds(10*time.Millisecond, 100*time.Millisecond),
			retry.WithJitterRatio(0),
		)

		Convey("Then the options should apply", func() {
			So(p.MaxRetries, ShouldEqual, 2)
			So(p.Base, ShouldEqual, 10*time.Millisecond)
			So(p.Max, ShouldEqual, 100*time.Millisecond)
			So(p.JitterRatio, ShouldEqual, 0)
		})
	})
}

func TestAllows(t *testing.T) {
	Convey("Given a policy with three retries", t, func() {
		p := retry.NewPolicy(retry.WithMaxRetries(3))

		Convey("Then PERMANENT faults should never retry", func() {
			So(p.Allows(faults.KindPermanent, 1), ShouldBeFalse)
		})

		Convey("Then TRANSIENT faults should retry up to the bound", func() {
			So(p.Allows(faults.KindTransient, 1), ShouldBeTrue)
			So(p.Allows(faults.KindTransient, 3), ShouldBeTrue)
			So(p.Allows(faults.KindTransient, 4), ShouldBeFalse)
		})

		Convey("Then RESOURCE faults should retry up to the bound", func() {
			So(p.Allows(faults.KindResource, 3), ShouldBeTrue)
			So(p.Allows(faults.KindResource, 4), ShouldBeFalse)
		})

		Convey("Then UNKNOWN faults should retry exactly once", func() {
			So(p.Allows(faults.KindUnknown, 1), ShouldBeTrue)
			So(p.Allows(faults.KindUnknown, 2), ShouldBeFalse)
		})
	})
}

func TestSchedule(t *testing.T) {
	Convey("Given a policy without jitter", t, func() {
		p := retry.NewPolicy(
			retry.WithBackoffBounds(10*time.Millisecond, 80*time.Millisecond),
			retry.WithJitterRatio(0),
		)

		Convey("When drawing TRANSIENT delays", func() {
			sched := p.Schedule(faults.KindTransient)

			Convey("Then delays should double up to the cap", func() {
				So(sched.NextBackOff(), ShouldEqual, 10*time.Millisecond)
				So(sched.NextBackOff(), ShouldEqual, 20*time.Millisecond)
				So(sched.NextBackOff(), ShouldEqual, 40*time.Millisecond)
				So(sched.NextBackOff(), ShouldEqual, 80*time.Millisecond)
				So(sched.NextBackOff(), ShouldEqual, 80*time.Millisecond)
			})
		})

		Convey("When drawing RESOURCE delays", func() {
			sched := p.Schedule(faults.KindResource)

			Convey("Then delays should grow faster than TRANSIENT ones", func() {
				So(sched.NextBackOff(), ShouldEqual, 10*time.Millisecond)
				So(sched.NextBackOff(), ShouldEqual, 30*time.Millisecond)
				So(sched.NextBackOff(), ShouldEqual, 80*time.Millisecond)
			})
		})
	})

	Convey("Given a policy with jitter", t, func() {
		p := retry.NewPolicy(
			retry.WithBackoffBounds(100*time.Millisecond, time.Second),
			retry.WithJitterRatio(0.2),
		)
		sched := p.Schedule(faults.KindTransient)

		Convey("Then every delay should stay inside the jitter band", func() {
			expected := 100 * time.Millisecond
			for i := 0; i < 4; i++ {
				d := sched.NextBackOff()
				lower := time.Duration(float64(expected) * 0.8)
				upper := time.Duration(float64(expected) * 1.2)
				So(d, ShouldBeGreaterThanOrEqualTo, lower)
				So(d, ShouldBeLessThanOrEqualTo, upper)
				expected *= 2
				if expected > time.Second {
					expected = time.Second
				}
			}
		})
	})

	Convey("Given two schedules from one policy", t, func() {
		p := retry.NewPolicy(retry.WithJitterRatio(0))

		Convey("Then each should start from the base independently", func() {
			first := p.Schedule(faults.KindTransient)
			_ = first.NextBackOff()
			_ = first.NextBackOff()

			second := p.Schedule(faults.KindTransient)
			So(second.NextBackOff(), ShouldEqual, p.Base)
		})
	})
}
