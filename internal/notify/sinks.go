package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// SubjectPrefix is followed by the account id
const SubjectPrefix = "ledger.notifications."

// Publisher is the part of *nats.Conn the NATS sink needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON, one subject per account
type NATSSink struct {
	pub Publisher
}

// NewNATSSink creates a sink over pub
func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

// Notify publishes the event
func (s *NATSSink) Notify(_ context.Context, accountID, message string) error {
	data, err := json.Marshal(Event{AccountID: accountID, Message: message, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := s.pub.Publish(SubjectPrefix+accountID, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// ConnectNATS opens a connection that keeps reconnecting in the background
func ConnectNATS(url string, log *logrus.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("ledger-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("NATS error: %v", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnf("Disconnected from NATS server: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("Reconnected to NATS server")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NATS connection failed: %w", err)
	}
	return nc, nil
}

// LogSink writes events to the application log
type LogSink struct {
	log *logrus.Logger
}

// NewLogSink creates a sink logging at info level
func NewLogSink(log *logrus.Logger) *LogSink {
	return &LogSink{log: log}
}

// Notify logs the event
func (s *LogSink) Notify(_ context.Context, accountID, message string) error {
	s.log.WithFields(logrus.Fields{"account_id": accountID, "notification": message}).Info("notification")
	return nil
}
