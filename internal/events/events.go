// Package events publishes translated utterances to NATS so other services
// (recorders, dashboards, chat bridges) can follow a babelcast session.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/pipeline"
	"github.com/MrWong99/babelcast/pkg/provider"
)

// DefaultSubject is the subject prefix; the target base language is
// appended, e.g. "babelcast.utterance.es".
const DefaultSubject = "babelcast.utterance"

// Utterance is the published JSON document.
type Utterance struct {
	SessionID      string    `json:"session_id"`
	SourceText     string    `json:"source_text"`
	TranslatedText string    `json:"translated_text"`
	SourceLang     string    `json:"source_lang"`
	TargetLang     string    `json:"target_lang"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Option configures a [Publisher].
type Option func(*Publisher)

// WithSubject sets the subject prefix.
func WithSubject(subject string) Option {
	return func(p *Publisher) {
		if subject != "" {
			p.subject = strings.TrimSuffix(subject, ".")
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

// WithErrorSink receives publish failures.
func WithErrorSink(s pipeline.ErrorSink) Option {
	return func(p *Publisher) { p.sink = s }
}

// Publisher is a pipeline consumer that publishes every utterance.
type Publisher struct {
	conn    Conn
	subject string
	log     *slog.Logger
	sink    pipeline.ErrorSink
}

// NewPublisher creates a publisher on conn.
func NewPublisher(conn Conn, opts ...Option) *Publisher {
	p := &Publisher{conn: conn, subject: DefaultSubject, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	if p.sink == nil {
		p.sink = pipeline.LogSink{Log: p.log}
	}
	return p
}

// Subject returns the subject utterances in lang are published on.
func (p *Publisher) Subject(lang string) string {
	base := provider.BaseLanguage(lang)
	if base == "" {
		base = "und"
	}
	return p.subject + "." + base
}

// Consume publishes u. Failures go to the error sink.
func (p *Publisher) Consume(_ context.Context, u pipeline.Utterance) {
	if err := p.Publish(u); err != nil {
		p.sink.Report(observe.StagePublish, err)
	}
}

// Publish encodes and publishes u.
func (p *Publisher) Publish(u pipeline.Utterance) error {
	data, err := json.Marshal(Utterance{
		SessionID:      u.SessionID,
		SourceText:     u.SourceText,
		TranslatedText: u.TranslatedText,
		SourceLang:     u.SourceLang,
		TargetLang:     u.TargetLang,
		CreatedAt:      u.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", u.SessionID, err)
	}
	subject := p.Subject(u.TargetLang)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	p.log.Debug("events: published utterance", "subject", subject, "session_id", u.SessionID)
	return nil
}

// Config describes the NATS connection.
type Config struct {
	Servers        []string
	Name           string
	Token          string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Client owns a NATS connection.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the configured servers.
func Connect(cfg Config, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("events: no NATS servers configured")
	}
	if log == nil {
		log = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "babelcast"
	}
	options := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("events: NATS disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("events: NATS reconnected", "server", c.ConnectedUrl())
		}),
	}
	if cfg.ConnectTimeout > 0 {
		options = append(options, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}
	log.Info("connected to NATS", "servers", url)
	return &Client{conn: conn, log: log}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.conn }

// Healthy reports whether the connection is up.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Check implements a readiness probe.
func (c *Client) Check(context.Context) error {
	if !c.Healthy() {
		return errors.New("events: NATS not connected")
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}
