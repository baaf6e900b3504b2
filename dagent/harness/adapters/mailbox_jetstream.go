package adapters

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// JetStreamMailboxConfig configures the JetStream-backed mailbox.
type JetStreamMailboxConfig struct {
	Stream        string
	SubjectPrefix string
	AckWait       time.Duration
	FetchWait     time.Duration
}

// JetStreamMailbox keeps one subject per conversation in a file-backed stream and a
// durable explicit-ack consumer per conversation. Envelope sequence numbers are
// stream sequences, so they grow monotonically per conversation.
type JetStreamMailbox struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    JetStreamMailboxConfig
	logger zerolog.Logger

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
	inflight  map[string]map[uint64]jetstream.Msg
}

// NewJetStreamMailbox creates or updates the stream and returns the mailbox.
func NewJetStreamMailbox(ctx context.Context, js jetstream.JetStream, cfg JetStreamMailboxConfig, logger zerolog.Logger) (*JetStreamMailbox, error) {
	if cfg.Stream == "" {
		cfg.Stream = "DAGENT_SIGNALS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "dagent.signals"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 5 * time.Minute
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 5 * time.Second
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}

	return &JetStreamMailbox{
		js:        js,
		stream:    stream,
		cfg:       cfg,
		logger:    logger.With().Str("component", "mailbox_jetstream").Logger(),
		consumers: make(map[string]jetstream.Consumer),
		inflight:  make(map[string]map[uint64]jetstream.Msg),
	}, nil
}

var subjectSafe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// subjectToken maps a conversation id onto a single subject token that is also a
// valid consumer name.
func subjectToken(conversationID string) string {
	if subjectSafe.MatchString(conversationID) {
		return conversationID
	}
	return "x" + hex.EncodeToString([]byte(conversationID))
}

func (m *JetStreamMailbox) subject(conversationID string) string {
	return m.cfg.SubjectPrefix + "." + subjectToken(conversationID)
}

func (m *JetStreamMailbox) Enqueue(ctx context.Context, conversationID string, sig conversation.Signal) (uint64, error) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal signal: %w", err)
	}
	ack, err := m.js.Publish(ctx, m.subject(conversationID), payload)
	if err != nil {
		return 0, fmt.Errorf("publish signal: %w", err)
	}
	return ack.Sequence, nil
}

func (m *JetStreamMailbox) consumer(ctx context.Context, conversationID string) (jetstream.Consumer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.consumers[conversationID]; ok {
		return c, nil
	}
	c, err := m.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "dagent-" + subjectToken(conversationID),
		FilterSubject: m.subject(conversationID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       m.cfg.AckWait,
		MaxAckPending: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", conversationID, err)
	}
	m.consumers[conversationID] = c
	return c, nil
}

func (m *JetStreamMailbox) Next(ctx context.Context, conversationID string, after uint64) (ports.Envelope, error) {
	if env, ok := m.held(conversationID, after); ok {
		return env, nil
	}

	c, err := m.consumer(ctx, conversationID)
	if err != nil {
		return ports.Envelope{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return ports.Envelope{}, err
		}

		batch, err := c.Fetch(1, jetstream.FetchMaxWait(m.cfg.FetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return ports.Envelope{}, ctx.Err()
			}
			m.logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("fetch failed")
			continue
		}

		for msg := range batch.Messages() {
			env, err := m.decode(msg)
			if err != nil {
				m.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("dropping undecodable signal")
				_ = msg.Term()
				continue
			}
			if env.Seq <= after {
				// Already processed before a restart; the checkpoint is authoritative.
				_ = msg.Ack()
				continue
			}
			m.hold(conversationID, env.Seq, msg)
			return env, nil
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
			m.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("fetch error")
		}
	}
}

func (m *JetStreamMailbox) decode(msg jetstream.Msg) (ports.Envelope, error) {
	meta, err := msg.Metadata()
	if err != nil {
		return ports.Envelope{}, fmt.Errorf("read metadata: %w", err)
	}
	env := ports.Envelope{Seq: meta.Sequence.Stream, EnqueuedAt: meta.Timestamp}
	if err := json.Unmarshal(msg.Data(), &env.Signal); err != nil {
		return ports.Envelope{}, fmt.Errorf("unmarshal signal %d: %w", env.Seq, err)
	}
	return env, nil
}

// held returns an already fetched, unacknowledged signal past after, if any.
func (m *JetStreamMailbox) held(conversationID string, after uint64) (ports.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best jetstream.Msg
	var bestSeq uint64
	for seq, msg := range m.inflight[conversationID] {
		if seq > after && (best == nil || seq < bestSeq) {
			best, bestSeq = msg, seq
		}
	}
	if best == nil {
		return ports.Envelope{}, false
	}
	env, err := m.decode(best)
	if err != nil {
		return ports.Envelope{}, false
	}
	return env, true
}

func (m *JetStreamMailbox) hold(conversationID string, seq uint64, msg jetstream.Msg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[conversationID] == nil {
		m.inflight[conversationID] = make(map[uint64]jetstream.Msg)
	}
	m.inflight[conversationID][seq] = msg
}

func (m *JetStreamMailbox) Ack(ctx context.Context, conversationID string, seq uint64) error {
	m.mu.Lock()
	var toAck []jetstream.Msg
	for s, msg := range m.inflight[conversationID] {
		if s <= seq {
			toAck = append(toAck, msg)
			delete(m.inflight[conversationID], s)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, msg := range toAck {
		if err := msg.DoubleAck(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("ack signals up to %d: %w", seq, errors.Join(errs...))
	}
	return nil
}

var _ ports.Mailbox = (*JetStreamMailbox)(nil)
