package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSSink publishes to NATS subjects. Topics map to subjects unchanged.
type NATSSink struct {
	conn natsConn
}

// DialNATS connects to url and keeps reconnecting for as long as the sink
// is open.
func DialNATS(url string, log logrus.FieldLogger) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("sink", "nats")
	nc, err := nats.Connect(url,
		nats.Name("navtrack"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSSink{conn: nc}, nil
}

func (s *NATSSink) Publish(_ context.Context, topic string, payload []byte) error {
	return s.conn.Publish(topic, payload)
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
