package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/flume/internal/adapters/idempotency"
	"github.com/okian/flume/internal/adapters/sink"
	service "github.com/okian/flume/internal/app"
	"github.com/okian/flume/internal/config"
	"github.com/okian/flume/internal/domain/model"
	"github.com/okian/flume/pkg/logger"
	"github.com/okian/flume/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const signupSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["userID"],
  "properties": {
    "userID": {"type": "string"}
  }
}`

// waitFor polls until the condition holds or the deadline passes.
func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service with in-memory defaults", t, func() {
		memSink := sink.NewMemorySink()
		svc := service.New(
			service.WithConsumerGroup("test"),
			service.WithSink(memSink),
			service.WithSchema("v1", signupSchema),
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Convey("When starting the service", func() {
			err := svc.Start(ctx)

			Convey("Then it should start cleanly", func() {
				So(err, ShouldBeNil)

				Convey("And starting again should be a no-op", func() {
					So(svc.Start(ctx), ShouldBeNil)
				})

				Convey("And published events should flow to the sink", func() {
					raw, err := model.EncodeEvent(model.Event{
						ID:            "evt-1",
						SchemaVersion: "v1",
						Payload:       []byte(`{"userID":"u-1"}`),
						ProducedAt:    time.Now().UTC(),
						PartitionKey:  "u-1",
					})
					So(err, ShouldBeNil)
					So(svc.Publish(ctx, "u-1", raw), ShouldBeNil)

					So(waitFor(func() bool {
						return len(memSink.Writes()) == 1
					}, 2*time.Second), ShouldBeTrue)
					So(memSink.Writes()[0].ID, ShouldEqual, "evt-1")
				})

				Convey("And stats should describe the running pipeline", func() {
					stats := svc.GetStats()
					So(stats["started"], ShouldEqual, true)
					So(stats["sourceTopic"], ShouldEqual, "flume.events")
					So(stats["consumerGroup"], ShouldEqual, "test")
					So(stats, ShouldContainKey, "deadLetterDepth")
					So(stats, ShouldContainKey, "sourceDepth")
				})

				Convey("And registering a schema at runtime should work", func() {
					So(svc.RegisterSchema("v2", signupSchema), ShouldBeNil)
				})

				cancel()
				svc.Stop()
			})
		})

		Convey("When publishing before start", func() {
			fresh := service.New(service.WithConsumerGroup("test"))
			err := fresh.Publish(ctx, "k", []byte(`{}`))

			Convey("Then it should refuse", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

// closableStore tracks whether the service released it on Stop.
type closableStore struct {
	*idempotency.MemoryStore
	closed bool
}

func (c *closableStore) Close() error {
	c.closed = true
	return c.MemoryStore.Close()
}

// publishedCount reads the published_total counter for a topic from
// the global registry.
func publishedCount(topic string) float64 {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		return -1
	}
	for _, f := range families {
		if f.GetName() != "flume_pipeline_published_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "topic" && l.GetValue() == topic {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestServiceStopClosesStore(t *testing.T) {
	Convey("Given a service with a closable idempotency store", t, func() {
		store := &closableStore{MemoryStore: idempotency.NewMemoryStore()}
		svc := service.New(
			service.WithConsumerGroup("test"),
			service.WithStore(store),
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When stopping the service", func() {
			cancel()
			svc.Stop()

			Convey("Then the store should be closed", func() {
				So(store.closed, ShouldBeTrue)
			})
		})
	})
}

func TestServicePublishCountedOnce(t *testing.T) {
	Convey("Given a started service", t, func() {
		topic := "ingest-count"
		memSink := sink.NewMemorySink()
		svc := service.New(
			service.WithConsumerGroup("test"),
			service.WithTopics(topic, topic+".dead-letter"),
			service.WithSink(memSink),
			service.WithSchema("v1", signupSchema),
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When one event is published", func() {
			before := publishedCount(topic)
			raw, err := model.EncodeEvent(model.Event{
				ID:            "evt-count",
				SchemaVersion: "v1",
				Payload:       []byte(`{"userID":"u-1"}`),
				ProducedAt:    time.Now().UTC(),
				PartitionKey:  "u-1",
			})
			So(err, ShouldBeNil)
			So(svc.Publish(ctx, "u-1", raw), ShouldBeNil)

			Convey("Then published_total should grow by exactly one", func() {
				So(publishedCount(topic)-before, ShouldEqual, 1.0)
			})

			cancel()
			svc.Stop()
		})
	})
}

func TestOptionsFromConfig(t *testing.T) {
	Convey("Given loaded configuration", t, func() {
		cfg := config.New()
		cfg.ConsumerGroup = "workers-a"
		cfg.SourceTopic = "in"
		cfg.DeadLetterTopic = "dead"

		Convey("When translating it into service options", func() {
			opts := service.OptionsFromConfig(cfg)
			svc := service.New(opts...)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			Convey("Then the service should start with those settings", func() {
				So(svc.Start(ctx), ShouldBeNil)

				stats := svc.GetStats()
				So(stats["consumerGroup"], ShouldEqual, "workers-a")
				So(stats["sourceTopic"], ShouldEqual, "in")
				So(stats["breakerState"], ShouldEqual, "closed")

				cancel()
				svc.Stop()
			})
		})
	})
}
