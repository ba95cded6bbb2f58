// Package delta applies delta-encoded messages on a channel and asks for
// recovery when the chain breaks.
package delta

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bark-labs/bark-push-sdk/internal/logging"
)

// CodeDecodeFailed is the error code reported when a delta cannot be applied.
const CodeDecodeFailed = 40018

var ErrNoDecoder = errors.New("no delta decoder configured")

// Decoder reconstructs a payload from a delta and the payload it was computed against.
type Decoder interface {
	Decode(delta, base []byte) ([]byte, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(delta, base []byte) ([]byte, error)

func (f DecoderFunc) Decode(delta, base []byte) ([]byte, error) { return f(delta, base) }

// Message is one inbound message. From is set only on deltas and names the
// message the delta was computed against.
type Message struct {
	ID   string
	From string
	Data []byte
}

func (m Message) IsDelta() bool { return m.From != "" }

// RecoveryError reports a broken delta chain.
type RecoveryError struct {
	Code      int
	MessageID string
	LastID    string
	Err       error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("[%d] delta message %s could not be decoded against %q: %v", e.Code, e.MessageID, e.LastID, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// Stream tracks the last decoded payload of a channel.
type Stream struct {
	decoder    Decoder
	onRecovery func(lastID string)
	logger     *slog.Logger

	mu         sync.Mutex
	lastID     string
	base       []byte
	recovering bool
}

type Option func(*Stream)

// WithRecovery sets the hook run once per broken chain with the last good message id.
func WithRecovery(fn func(lastID string)) Option {
	return func(s *Stream) { s.onRecovery = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStream(decoder Decoder, opts ...Option) *Stream {
	s := &Stream{decoder: decoder, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply returns the decoded payload of msg. While recovering, deltas are
// discarded and Apply returns (nil, nil) until a full message arrives.
func (s *Stream) Apply(msg Message) ([]byte, error) {
	s.mu.Lock()

	if !msg.IsDelta() {
		s.recovering = false
		s.lastID = msg.ID
		s.base = append([]byte(nil), msg.Data...)
		s.mu.Unlock()
		return msg.Data, nil
	}
	if s.recovering {
		s.mu.Unlock()
		s.logger.Debug("delta discarded during recovery", "id", msg.ID)
		return nil, nil
	}

	var err error
	var out []byte
	switch {
	case s.decoder == nil:
		err = ErrNoDecoder
	case msg.From != s.lastID:
		err = fmt.Errorf("delta base %q is not the last message %q", msg.From, s.lastID)
	default:
		out, err = s.decoder.Decode(msg.Data, s.base)
	}
	if err == nil {
		s.lastID = msg.ID
		s.base = out
		s.mu.Unlock()
		return out, nil
	}

	s.recovering = true
	recErr := &RecoveryError{Code: CodeDecodeFailed, MessageID: msg.ID, LastID: s.lastID, Err: err}
	hook, lastID := s.onRecovery, s.lastID
	s.mu.Unlock()

	s.logger.Warn("delta decode failed, starting recovery", "error", recErr)
	if hook != nil {
		hook(lastID)
	}
	return nil, recErr
}

// Recovering reports whether deltas are currently being discarded.
func (s *Stream) Recovering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovering
}

// LastID is the id of the last message successfully applied.
func (s *Stream) LastID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Reset forgets the base payload, e.g. after the channel re-attaches.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID = ""
	s.base = nil
	s.recovering = false
}
