package transport_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/flume/internal/adapters/transport"
	. "github.com/smartystreets/goconvey/convey"
)

// collectReaders drains the announcement channel into a partition map.
func collectReaders(ch <-chan transport.Reader) map[int32]transport.Reader {
	readers := make(map[int32]transport.Reader)
	for r := range ch {
		readers[r.Partition()] = r
	}
	return readers
}

func TestLogPublishSubscribe(t *testing.T) {
	Convey("Given an in-memory log with four partitions", t, func() {
		log := transport.NewLog(transport.WithPartitionCount(4))
		ctx := context.Background()

		Convey("When subscribing to a topic", func() {
			ch, err := log.Subscribe(ctx, "events", "g1")
			So(err, ShouldBeNil)
			readers := collectReaders(ch)

			Convey("Then one reader per partition should be announced", func() {
				So(len(readers), ShouldEqual, 4)
			})
		})

		Convey("When publishing events sharing a key", func() {
			for i := 0; i < 5; i++ {
				err := log.Publish(ctx, "events", "user-1", fmt.Appendf(nil, "payload-%d", i))
				So(err, ShouldBeNil)
			}

			ch, err := log.Subscribe(ctx, "events", "g1")
			So(err, ShouldBeNil)
			readers := collectReaders(ch)

			Convey("Then they should land on one partition in publish order", func() {
				var got []string
				var owner transport.Reader
				for _, r := range readers {
					rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
					d, err := r.Next(rctx)
					cancel()
					if err == nil {
						owner = r
						got = append(got, string(d.Raw))
						break
					}
				}
				So(owner, ShouldNotBeNil)

				for i := 1; i < 5; i++ {
					d, err := owner.Next(ctx)
					So(err, ShouldBeNil)
					got = append(got, string(d.Raw))
				}
				So(got, ShouldResemble, []string{"payload-0", "payload-1", "payload-2", "payload-3", "payload-4"})
			})
		})

		Convey("When publishing with an empty key", func() {
			So(log.Publish(ctx, "events", "", []byte("keyless")), ShouldBeNil)

			ch, err := log.Subscribe(ctx, "events", "g1")
			So(err, ShouldBeNil)
			readers := collectReaders(ch)

			Convey("Then the record should land on partition zero", func() {
				d, err := readers[0].Next(ctx)
				So(err, ShouldBeNil)
				So(string(d.Raw), ShouldEqual, "keyless")
				So(d.Offset.Partition, ShouldEqual, 0)
			})
		})

		Convey("When the published buffer is mutated afterwards", func() {
			buf := []byte("original")
			So(log.Publish(ctx, "events", "", buf), ShouldBeNil)
			copy(buf, "mutated!")

			ch, _ := log.Subscribe(ctx, "events", "g1")
			readers := collectReaders(ch)
			d, err := readers[0].Next(ctx)

			Convey("Then the stored record should be unaffected", func() {
				So(err, ShouldBeNil)
				So(string(d.Raw), ShouldEqual, "original")
			})
		})
	})
}

func TestLogCommitSemantics(t *testing.T) {
	Convey("Given a log with published records", t, func() {
		log := transport.NewLog(transport.WithPartitionCount(1))
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			So(log.Publish(ctx, "events", "k", fmt.Appendf(nil, "e-%d", i)), ShouldBeNil)
		}

		Convey("When a group reads without committing", func() {
			ch, _ := log.Subscribe(ctx, "events", "g1")
			r := collectReaders(ch)[0]
			d, err := r.Next(ctx)
			So(err, ShouldBeNil)
			So(string(d.Raw), ShouldEqual, "e-0")

			Convey("Then a new subscription should redeliver from the start", func() {
				ch2, _ := log.Subscribe(ctx, "events", "g1")
				r2 := collectReaders(ch2)[0]
				d2, err := r2.Next(ctx)
				So(err, ShouldBeNil)
				So(string(d2.Raw), ShouldEqual, "e-0")
			})
		})

		Convey("When a group commits an offset", func() {
			ch, _ := log.Subscribe(ctx, "events", "g1")
			r := collectReaders(ch)[0]
			d, _ := r.Next(ctx)
			So(r.Commit(ctx, d.Offset), ShouldBeNil)

			Convey("Then redelivery should resume past the commit", func() {
				ch2, _ := log.Subscribe(ctx, "events", "g1")
				r2 := collectReaders(ch2)[0]
				d2, err := r2.Next(ctx)
				So(err, ShouldBeNil)
				So(string(d2.Raw), ShouldEqual, "e-1")
			})

			Convey("Then other groups should be unaffected", func() {
				ch2, _ := log.Subscribe(ctx, "events", "g2")
				r2 := collectReaders(ch2)[0]
				d2, err := r2.Next(ctx)
				So(err, ShouldBeNil)
				So(string(d2.Raw), ShouldEqual, "e-0")
			})
		})

		Convey("When a stale commit arrives after a newer one", func() {
			ch, _ := log.Subscribe(ctx, "events", "g1")
			r := collectReaders(ch)[0]
			d0, _ := r.Next(ctx)
			d1, _ := r.Next(ctx)
			So(r.Commit(ctx, d1.Offset), ShouldBeNil)
			So(r.Commit(ctx, d0.Offset), ShouldBeNil)

			Convey("Then the cursor should not move backwards", func() {
				ch2, _ := log.Subscribe(ctx, "events", "g1")
				r2 := collectReaders(ch2)[0]
				d2, err := r2.Next(ctx)
				So(err, ShouldBeNil)
				So(string(d2.Raw), ShouldEqual, "e-2")
			})
		})

		Convey("When committing an unknown offset", func() {
			ch, _ := log.Subscribe(ctx, "events", "g1")
			r := collectReaders(ch)[0]
			err := r.Commit(ctx, transport.Offset{Topic: "missing", Partition: 9, Index: 0})

			Convey("Then it should return ErrUnknownOffset", func() {
				So(errors.Is(err, transport.ErrUnknownOffset), ShouldBeTrue)
			})
		})
	})
}

func TestLogBlockingAndClose(t *testing.T) {
	Convey("Given a subscribed reader on an empty partition", t, func() {
		log := transport.NewLog(transport.WithPartitionCount(1))
		ctx := context.Background()
		ch, _ := log.Subscribe(ctx, "events", "g1")
		r := collectReaders(ch)[0]

		Convey("When a record arrives while Next is blocked", func() {
			type result struct {
				d   transport.Delivery
				err error
			}
			got := make(chan result, 1)
			go func() {
				d, err := r.Next(ctx)
				got <- result{d, err}
			}()

			time.Sleep(20 * time.Millisecond)
			So(log.Publish(ctx, "events", "k", []byte("late")), ShouldBeNil)

			Convey("Then the blocked reader should wake with it", func() {
				select {
				case res := <-got:
					So(res.err, ShouldBeNil)
					So(string(res.d.Raw), ShouldEqual, "late")
				case <-time.After(time.Second):
					So("timed out", ShouldBeEmpty)
				}
			})
		})

		Convey("When the context is canceled while blocked", func() {
			cctx, cancel := context.WithCancel(ctx)
			got := make(chan error, 1)
			go func() {
				_, err := r.Next(cctx)
				got <- err
			}()

			time.Sleep(20 * time.Millisecond)
			cancel()

			Convey("Then Next should return the context error", func() {
				select {
				case err := <-got:
					So(errors.Is(err, context.Canceled), ShouldBeTrue)
				case <-time.After(time.Second):
					So("timed out", ShouldBeEmpty)
				}
			})
		})

		Convey("When the log is closed while blocked", func() {
			got := make(chan error, 1)
			go func() {
				_, err := r.Next(ctx)
				got <- err
			}()

			time.Sleep(20 * time.Millisecond)
			So(log.Close(), ShouldBeNil)

			Convey("Then Next should return ErrClosed", func() {
				select {
				case err := <-got:
					So(errors.Is(err, transport.ErrClosed), ShouldBeTrue)
				case <-time.After(time.Second):
					So("timed out", ShouldBeEmpty)
				}
			})

			Convey("And publishing should be refused", func() {
				<-got
				So(errors.Is(log.Publish(ctx, "events", "k", []byte("x")), transport.ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestLogDepth(t *testing.T) {
	Convey("Given a log", t, func() {
		log := transport.NewLog(transport.WithPartitionCount(2))
		ctx := context.Background()

		Convey("Then depth should count records across partitions", func() {
			So(log.Depth("events"), ShouldEqual, 0)
			So(log.Publish(ctx, "events", "a", []byte("1")), ShouldBeNil)
			So(log.Publish(ctx, "events", "b", []byte("2")), ShouldBeNil)
			So(log.Publish(ctx, "events", "c", []byte("3")), ShouldBeNil)
			So(log.Depth("events"), ShouldEqual, 3)
			So(log.Depth("other"), ShouldEqual, 0)
		})
	})
}

func TestLogGroupLag(t *testing.T) {
	Convey("Given a single-partition log with published records", t, func() {
		log := transport.NewLog(transport.WithPartitionCount(1))
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			So(log.Publish(ctx, "events", "k", []byte{byte(i)}), ShouldBeNil)
		}

		Convey("Then an unknown topic should have no lag map", func() {
			So(log.GroupLag("other", "g1"), ShouldBeNil)
		})

		Convey("Then a fresh group should lag by every record", func() {
			lag := log.GroupLag("events", "g1")
			So(lag[0], ShouldEqual, 3)
		})

		Convey("When the group commits one delivery", func() {
			ch, err := log.Subscribe(ctx, "events", "g1")
			So(err, ShouldBeNil)
			var reader transport.Reader
			for r := range ch {
				reader = r
			}
			d, err := reader.Next(ctx)
			So(err, ShouldBeNil)
			So(reader.Commit(ctx, d.Offset), ShouldBeNil)

			Convey("Then the lag should shrink for that group only", func() {
				So(log.GroupLag("events", "g1")[0], ShouldEqual, 2)
				So(log.GroupLag("events", "g2")[0], ShouldEqual, 3)
			})
		})
	})
}
