package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Kind groups the signals a participant's browser receives.
type Kind string

const (
	KindAsset     Kind = "asset"
	KindOverlay   Kind = "overlay"
	KindLifecycle Kind = "lifecycle"
	KindSummary   Kind = "summary"
)

// Envelope is one sequenced signal with its JSON payload.
type Envelope struct {
	Sequence uint64          `json:"seq"`
	Kind     Kind            `json:"kind"`
	Name     string          `json:"name"`
	Trial    int             `json:"trial"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Clone copies the envelope including its payload bytes.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return &clone
}

// Config controls how many envelopes are retained for replay.
type Config struct {
	Retain int
}

const defaultRetention = 512

// ErrOutOfOrderAck signals that a subscriber acknowledged anything but its oldest pending envelope.
var ErrOutOfOrderAck = errors.New("ack sequence must match the next pending event")

// Stream delivers ordered signals with at-least-once semantics. Subscribers that drop and
// reconnect under the same identifier receive everything they have not acknowledged.
type Stream struct {
	mu          sync.Mutex
	nextSeq     uint64
	retention   int
	order       []uint64
	payloads    map[uint64]*Envelope
	subscribers map[string]*subscriber
}

type subscriber struct {
	pending []uint64
	lastAck uint64
	ch      chan *Envelope
}

// Subscription is one live attachment of a subscriber.
type Subscription struct {
	id     string
	stream *Stream
	events chan *Envelope
	once   sync.Once
}

// NewStream constructs a stream using the provided configuration.
func NewStream(cfg Config) *Stream {
	retention := cfg.Retain
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Stream{
		retention:   retention,
		payloads:    make(map[uint64]*Envelope),
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe attaches subscriberID and replays every retained envelope it has not acknowledged.
func (s *Stream) Subscribe(ctx context.Context, subscriberID string, buffer int) (*Subscription, error) {
	if s == nil {
		return nil, errors.New("nil stream")
	}
	if subscriberID == "" {
		return nil, errors.New("subscriber id must be provided")
	}
	if buffer <= 0 {
		buffer = 32
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[subscriberID]
	if !ok {
		sub = &subscriber{}
		s.subscribers[subscriberID] = sub
	}
	sub.pending = sub.pending[:0]
	replay := make([]*Envelope, 0, len(s.order))
	for _, seq := range s.order {
		if seq <= sub.lastAck {
			continue
		}
		sub.pending = append(sub.pending, seq)
		replay = append(replay, s.payloads[seq].Clone())
	}
	//1.- Queue the replay before releasing the lock so live envelopes always follow it.
	ch := make(chan *Envelope, buffer+len(replay))
	for _, env := range replay {
		ch <- env
	}
	sub.ch = ch
	return &Subscription{id: subscriberID, stream: s, events: ch}, nil
}

// Events exposes the ordered delivery channel. It is never closed; select on a context.
func (s *Subscription) Events() <-chan *Envelope {
	if s == nil {
		return nil
	}
	return s.events
}

// Ack acknowledges the oldest pending envelope.
func (s *Subscription) Ack(sequence uint64) error {
	if s == nil || s.stream == nil {
		return errors.New("subscription closed")
	}
	return s.stream.ack(s.id, sequence)
}

// Close detaches the subscription while keeping its acknowledgement state.
func (s *Subscription) Close() {
	if s == nil || s.stream == nil {
		return
	}
	s.once.Do(func() {
		s.stream.detach(s.id, s.events)
	})
}

// Publish marshals payload and appends it to the stream.
func (s *Stream) Publish(kind Kind, name string, trialOrdinal int, payload any) (uint64, error) {
	if s == nil {
		return 0, errors.New("nil stream")
	}
	if kind == "" || name == "" {
		return 0, errors.New("event kind and name are required")
	}
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode %s/%s: %w", kind, name, err)
		}
		raw = encoded
	}
	envelope := &Envelope{Kind: kind, Name: name, Trial: trialOrdinal, Payload: raw}

	s.mu.Lock()
	s.nextSeq++
	envelope.Sequence = s.nextSeq
	s.payloads[envelope.Sequence] = envelope
	s.order = append(s.order, envelope.Sequence)
	targets := make([]chan *Envelope, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		sub.pending = append(sub.pending, envelope.Sequence)
		if sub.ch != nil {
			targets = append(targets, sub.ch)
		}
	}
	s.pruneLocked()
	s.mu.Unlock()

	for _, ch := range targets {
		//1.- Full buffers drop the live copy; the envelope stays pending for replay.
		select {
		case ch <- envelope.Clone():
		default:
		}
	}
	return envelope.Sequence, nil
}

// Len reports how many envelopes are retained.
func (s *Stream) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Since returns retained envelopes with a sequence greater than after.
func (s *Stream) Since(after uint64) []*Envelope {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.order), func(i int) bool { return s.order[i] > after })
	out := make([]*Envelope, 0, len(s.order)-idx)
	for _, seq := range s.order[idx:] {
		out = append(out, s.payloads[seq].Clone())
	}
	return out
}

func (s *Stream) pruneLocked() {
	if len(s.order) <= s.retention {
		return
	}
	//1.- Drop only envelopes outside the window that every subscriber acknowledged.
	floor := s.nextSeq
	for _, sub := range s.subscribers {
		if sub.lastAck < floor {
			floor = sub.lastAck
		}
	}
	cutoff := s.order[len(s.order)-s.retention-1]
	if cutoff < floor {
		floor = cutoff
	}
	if floor == 0 {
		return
	}
	idx := sort.Search(len(s.order), func(i int) bool { return s.order[i] > floor })
	for _, seq := range s.order[:idx] {
		delete(s.payloads, seq)
	}
	s.order = append([]uint64(nil), s.order[idx:]...)
}

func (s *Stream) ack(subscriberID string, sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[subscriberID]
	if !ok {
		return fmt.Errorf("unknown subscriber %q", subscriberID)
	}
	if len(sub.pending) == 0 {
		if sequence <= sub.lastAck {
			return nil
		}
		return ErrOutOfOrderAck
	}
	if sequence != sub.pending[0] {
		return ErrOutOfOrderAck
	}
	sub.pending = sub.pending[1:]
	sub.lastAck = sequence
	s.pruneLocked()
	return nil
}

func (s *Stream) detach(subscriberID string, ch chan *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[subscriberID]
	if !ok || sub.ch != ch {
		return
	}
	sub.ch = nil
}
