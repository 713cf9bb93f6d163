// Package events publishes build lifecycle notifications for external
// tooling. Publishing is best effort and strictly outside the engine core:
// a lost event never affects a build's outcome.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// BuildStarted is emitted when a run begins.
type BuildStarted struct {
	RunID     string    `json:"run_id"`
	StackID   string    `json:"stack_id"`
	OutputDir string    `json:"output_dir"`
	At        time.Time `json:"at"`
}

// BuildFinished is emitted when a run ends, successfully or not.
type BuildFinished struct {
	RunID    string        `json:"run_id"`
	StackID  string        `json:"stack_id"`
	Status   string        `json:"status"` // success|failed|cancelled
	Files    int           `json:"files"`
	Warnings int           `json:"warnings"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// Publisher delivers build lifecycle events.
type Publisher interface {
	PublishStarted(e BuildStarted) error
	PublishFinished(e BuildFinished) error
	Close()
}

// Noop is the default publisher when no event transport is configured.
type Noop struct{}

func (Noop) PublishStarted(BuildStarted) error   { return nil }
func (Noop) PublishFinished(BuildFinished) error { return nil }
func (Noop) Close()                              {}

// NATSPublisher publishes events as JSON onto appforge.builds.* subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// ConnectNATS dials a NATS server for event publication.
func ConnectNATS(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("appforge"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("Event publisher connected", "url", url)
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) PublishStarted(e BuildStarted) error {
	return p.publish("appforge.builds.started", e)
}

func (p *NATSPublisher) PublishFinished(e BuildFinished) error {
	return p.publish("appforge.builds.finished", e)
}

func (p *NATSPublisher) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes and drops the connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Flush()
	p.conn.Close()
}
