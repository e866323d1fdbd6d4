package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink forwards the event stream to a Kafka topic for off-core
// consumers. Events are handed to a background writer through a buffered
// channel so a slow broker never stalls settlement; the channel preserves
// publish order and drops on overflow.
type KafkaSink struct {
	writer *kafka.Writer
	queue  chan Envelope
	done   chan struct{}
	log    *zap.SugaredLogger
}

func NewKafkaSink(brokers []string, topic string, log *zap.SugaredLogger) *KafkaSink {
	s := &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		queue: make(chan Envelope, 1024),
		done:  make(chan struct{}),
		log:   log,
	}
	go s.run()
	return s
}

func (s *KafkaSink) Publish(e Event) {
	select {
	case s.queue <- Wrap(e):
	default:
		s.log.Warnw("kafka_sink_overflow", "event", e.EventType())
	}
}

func (s *KafkaSink) run() {
	for env := range s.queue {
		data, err := json.Marshal(env)
		if err != nil {
			s.log.Errorw("kafka_marshal_failed", "err", err)
			continue
		}
		err = s.writer.WriteMessages(context.Background(), kafka.Message{
			Key:   []byte(env.Type),
			Value: data,
		})
		if err != nil {
			s.log.Errorw("kafka_write_failed", "err", err, "event", env.Type)
		}
	}
	close(s.done)
}

// Close flushes queued events and shuts the writer down.
func (s *KafkaSink) Close() error {
	close(s.queue)
	<-s.done
	return s.writer.Close()
}

var _ Sink = (*KafkaSink)(nil)
