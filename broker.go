package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chicken/broker/internal/events"
	"chicken/broker/internal/export"
	"chicken/broker/internal/input"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/sequencer"
	"chicken/broker/internal/session"
	"chicken/broker/internal/timesync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	participantSubscriber = "participant"
	writeWait             = 5 * time.Second
	handshakeTimeout      = 10 * time.Second
	removeTimeout         = 30 * time.Second
	defaultResumeGrace    = time.Minute
	replyBuffer           = 16
	eventBuffer           = 64
	clockDriftThreshold   = time.Second
)

// BrokerConfig holds the connection tunables of the participant endpoint.
type BrokerConfig struct {
	MaxPayloadBytes int64
	PingInterval    time.Duration
	SnapshotHz      float64
	InputRate       float64
	ResumeGrace     time.Duration
	AllowedOrigins  []string
}

// BrokerOption customises broker construction.
type BrokerOption func(*Broker)

// WithSessionOptions appends options to every session the broker creates.
func WithSessionOptions(opts ...session.Option) BrokerOption {
	return func(b *Broker) {
		b.sessionOpts = append(b.sessionOpts, opts...)
	}
}

// Broker attaches participant WebSocket connections to experiment sessions. Each
// connection streams input in and receives the session's signals plus periodic world
// snapshots. A participant whose connection drops may resume with the token issued on
// welcome until the grace period lapses, after which the session is aborted and closed.
type Broker struct {
	cfg         BrokerConfig
	manager     *session.Manager
	gate        *input.Gate
	resume      resumeAuthenticator
	log         *logging.Logger
	upgrader    websocket.Upgrader
	sessionOpts []session.Option
	started     time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	participants map[string]*participant
	detached     map[string]*time.Timer
	startupErr   error
	closed       bool
}

type participant struct {
	conn    *websocket.Conn
	session *session.Session
	sub     *events.Subscription
	limiter *rate.Limiter
	clock   *timesync.Estimator
	replies chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	log     *logging.Logger
	dropped int
}

// NewBroker constructs a broker serving sessions from manager.
func NewBroker(cfg BrokerConfig, manager *session.Manager, gate *input.Gate, logger *logging.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = logging.L()
	}
	if cfg.ResumeGrace <= 0 {
		cfg.ResumeGrace = defaultResumeGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		cfg:          cfg,
		manager:      manager,
		gate:         gate,
		log:          logger.Named("broker"),
		started:      time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		participants: make(map[string]*participant),
		detached:     make(map[string]*time.Timer),
	}
	b.upgrader = websocket.Upgrader{
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin:      originChecker(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.resume == nil {
		authenticator, _, err := newResumeAuthenticator("", time.Hour)
		if err != nil {
			b.startupErr = fmt.Errorf("resume tokens: %w", err)
		}
		b.resume = authenticator
	}
	return b
}

// Register attaches the participant endpoint to the provided mux.
func (b *Broker) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws", b.serveWS)
}

// SessionCounts reports running sessions and attached participants.
func (b *Broker) SessionCounts() (active, participants int) {
	b.mu.Lock()
	participants = len(b.participants)
	b.mu.Unlock()
	return b.manager.Len(), participants
}

// StartupError reports a construction failure that makes the broker unusable.
func (b *Broker) StartupError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startupErr
}

// Uptime reports how long the broker has been running.
func (b *Broker) Uptime() time.Duration { return time.Since(b.started) }

func (b *Broker) track() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	if err := b.StartupError(); err != nil {
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}
	if !b.track() {
		http.Error(w, "broker shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.wg.Done()
		b.log.Warn("websocket upgrade failed", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
		return
	}
	if b.cfg.MaxPayloadBytes > 0 {
		conn.SetReadLimit(b.cfg.MaxPayloadBytes)
	}
	go func() {
		defer b.wg.Done()
		b.handleConnection(conn, r.RemoteAddr)
	}()
}

func (b *Broker) readTimeout() time.Duration {
	if b.cfg.PingInterval <= 0 {
		return 0
	}
	return 2 * b.cfg.PingInterval
}

func (b *Broker) extendReadDeadline(conn *websocket.Conn) error {
	timeout := b.readTimeout()
	if timeout == 0 {
		return conn.SetReadDeadline(time.Time{})
	}
	return conn.SetReadDeadline(time.Now().Add(timeout))
}

func (b *Broker) handleConnection(conn *websocket.Conn, remote string) {
	defer conn.Close()
	logger := b.log.With(logging.String("remote_addr", remote))
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	conn.SetPongHandler(func(string) error { return b.extendReadDeadline(conn) })

	//1.- The first frame either starts a fresh experiment or resumes an interrupted one.
	sess, resumed, err := b.handshake(conn)
	if err != nil {
		logger.Warn("handshake rejected", logging.Error(err))
		code := websocket.ClosePolicyViolation
		if errors.Is(err, session.ErrSessionFull) {
			code = websocket.CloseTryAgainLater
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, encodeError(err.Error()))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(writeWait))
		return
	}
	logger = logger.With(logging.Session(sess.ID()))
	token, err := b.resume.Issue(sess.ID())
	if err != nil {
		logger.Error("resume token issue failed", logging.Error(err))
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(welcomeMessage{
		Type:        msgWelcome,
		SessionID:   sess.ID(),
		ResumeToken: token,
		Resumed:     resumed,
		Protocol:    session.ProtocolParameters(sess.Protocol()),
	}); err != nil {
		logger.Debug("welcome write failed", logging.Error(err))
		return
	}
	_ = b.extendReadDeadline(conn)

	ctx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	sub, err := sess.Stream().Subscribe(ctx, participantSubscriber, eventBuffer)
	if err != nil {
		logger.Error("event subscription failed", logging.Error(err))
		return
	}
	defer sub.Close()

	p := &participant{
		conn:    conn,
		session: sess,
		sub:     sub,
		limiter: newInputLimiter(b.cfg.InputRate),
		clock: timesync.NewEstimator(timesync.DefaultWindow, timesync.WithDriftReporter(clockDriftThreshold, func(offset time.Duration) {
			logger.Info("participant clock offset changed", logging.Duration("offset", offset))
		})),
		replies: make(chan []byte, replyBuffer),
		ctx:     ctx,
		cancel:  cancel,
		log:     logger,
	}
	b.attach(p)
	logger.Info("participant attached", logging.Bool("resumed", resumed))

	writerDone := make(chan struct{})
	go b.writePump(p, writerDone)
	b.readPump(p)
	cancel()
	<-writerDone
	b.detach(p)
}

func newInputLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (b *Broker) handshake(conn *websocket.Conn) (*session.Session, bool, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, false, fmt.Errorf("read handshake: %w", err)
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		return nil, false, err
	}
	if err := validateMessage(msg); err != nil {
		return nil, false, err
	}
	switch msg.Type {
	case msgHello:
		look, err := msg.appearance()
		if err != nil {
			return nil, false, err
		}
		opts := append([]session.Option{session.WithAppearance(look)}, b.sessionOpts...)
		sess, err := b.manager.Create(b.ctx, opts...)
		if err != nil {
			return nil, false, err
		}
		if msg.Browser != nil {
			sess.Data().SetBrowser(*msg.Browser)
		}
		sess.Data().SetFromMturk(msg.FromMturk)
		return sess, false, nil
	case msgResume:
		id, err := b.resume.Authenticate(msg.Token)
		if err != nil {
			return nil, false, err
		}
		sess, err := b.manager.Get(id)
		if err != nil {
			return nil, false, err
		}
		return sess, true, nil
	default:
		return nil, false, fmt.Errorf("first message must be %s or %s, got %s", msgHello, msgResume, msg.Type)
	}
}

// attach makes p the connection of its session, superseding any older connection and
// cancelling a pending expiry.
func (b *Broker) attach(p *participant) {
	id := p.session.ID()
	b.mu.Lock()
	if timer, ok := b.detached[id]; ok {
		delete(b.detached, id)
		if timer.Stop() {
			b.wg.Done()
		}
	}
	old := b.participants[id]
	b.participants[id] = p
	b.mu.Unlock()
	if old != nil {
		old.log.Info("connection superseded by resume")
		old.cancel()
		_ = old.conn.Close()
	}
}

// detach releases p. Sessions whose data has been submitted are closed immediately;
// others wait for the participant to resume.
func (b *Broker) detach(p *participant) {
	id := p.session.ID()
	b.mu.Lock()
	if b.participants[id] != p {
		b.mu.Unlock()
		return
	}
	delete(b.participants, id)
	//1.- Stop the avatar instead of replaying the last held keys while disconnected.
	p.session.StoreInput(input.Axes{})
	if b.closed {
		b.mu.Unlock()
		return
	}
	if p.session.Data().Submitted() {
		b.wg.Add(1)
		b.mu.Unlock()
		go func() {
			defer b.wg.Done()
			b.retire(id, "submitted")
		}()
		return
	}
	b.wg.Add(1)
	b.detached[id] = time.AfterFunc(b.cfg.ResumeGrace, func() {
		defer b.wg.Done()
		b.expire(id)
	})
	b.mu.Unlock()
	p.log.Info("participant detached", logging.Duration("resume_grace", b.cfg.ResumeGrace))
}

func (b *Broker) expire(id string) {
	b.mu.Lock()
	if _, pending := b.detached[id]; !pending {
		b.mu.Unlock()
		return
	}
	delete(b.detached, id)
	b.mu.Unlock()
	sess, err := b.manager.Get(id)
	if err != nil {
		return
	}
	if !sess.Finished() {
		_ = b.manager.Abort(id, "participant disconnected")
	}
	b.retire(id, "resume grace elapsed")
}

func (b *Broker) retire(id, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	if err := b.manager.Remove(ctx, id); err != nil && !errors.Is(err, session.ErrUnknownSession) {
		b.log.Warn("session removal failed", logging.Session(id), logging.Error(err))
	}
	b.gate.Forget(id)
	b.log.Info("session retired", logging.Session(id), logging.String("reason", reason))
}

func (b *Broker) readPump(p *participant) {
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Debug("participant read failed", logging.Error(err))
			}
			return
		}
		_ = b.extendReadDeadline(p.conn)
		if !p.limiter.Allow() {
			p.dropped++
			if p.dropped == 1 || p.dropped%100 == 0 {
				p.log.Warn("participant messages rate limited", logging.Int("dropped", p.dropped))
			}
			continue
		}
		msg, err := decodeMessage(raw)
		if err == nil {
			err = validateMessage(msg)
		}
		if err != nil {
			p.reply(encodeError(err.Error()))
			continue
		}
		b.dispatch(p, msg)
	}
}

func (b *Broker) dispatch(p *participant, msg *inboundMessage) {
	sess := p.session
	switch msg.Type {
	case msgInput:
		frame := msg.inputFrame(sess.ID())
		//1.- Judge freshness on the server clock so a skewed participant clock is not stale.
		p.clock.Observe(frame.SentAt, time.Now())
		frame.SentAt = p.clock.ToServer(frame.SentAt)
		if decision := b.gate.Evaluate(frame); decision.Accepted {
			sess.StoreInput(frame.Axes)
		}
	case msgAck:
		if err := p.sub.Ack(msg.SequenceID); err != nil {
			p.log.Debug("ack rejected", logging.Error(err), logging.Int64("seq", int64(msg.SequenceID)))
		}
	case msgContinue:
		if err := sess.ResumeAfterInstructions(); err != nil {
			if !errors.Is(err, sequencer.ErrNotAwaitingInstructions) {
				p.log.Warn("instruction resume failed", logging.Error(err))
			}
			p.reply(encodeError(err.Error()))
		}
	case msgQuestionnaire:
		if !sess.Finished() {
			p.reply(encodeError("experiment is still running"))
			return
		}
		//1.- Sinks outlive the connection, so submission is not tied to its context.
		err := sess.SubmitQuestionnaire(context.Background(), *msg.Questionnaire)
		if err != nil && !errors.Is(err, export.ErrAlreadySubmitted) {
			p.reply(encodeError(err.Error()))
			return
		}
		p.replyJSON(submittedMessage{Type: msgSubmitted, CompletionCode: sess.Data().Document().CompletionCode})
	case msgHello, msgResume:
		p.reply(encodeError("already joined"))
	}
}

func (p *participant) reply(data []byte) {
	select {
	case p.replies <- data:
	default:
		p.log.Warn("reply dropped: buffer full")
	}
}

func (p *participant) replyJSON(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("reply encode failed", logging.Error(err))
		return
	}
	p.reply(data)
}

func (b *Broker) writePump(p *participant, done chan<- struct{}) {
	defer close(done)
	pingInterval := b.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = time.Hour
	}
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	var snapshots <-chan time.Time
	if b.cfg.SnapshotHz > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / b.cfg.SnapshotHz))
		defer ticker.Stop()
		snapshots = ticker.C
	}
	fail := func(err error) {
		p.log.Debug("participant write failed", logging.Error(err))
		p.cancel()
		_ = p.conn.Close()
	}
	for {
		var err error
		select {
		case <-p.ctx.Done():
			_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case env := <-p.sub.Events():
			err = p.writeJSON(eventMessage{Type: msgEvent, Event: env})
		case data := <-p.replies:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = p.conn.WriteMessage(websocket.TextMessage, data)
		case <-snapshots:
			err = p.writeJSON(snapshotMessage{Type: msgSnapshot, Snapshot: p.session.Snapshot()})
		case <-ping.C:
			err = p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
		if err != nil {
			fail(err)
			return
		}
	}
}

func (p *participant) writeJSON(payload any) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(payload)
}

// Close disconnects every participant and waits for connection goroutines and pending
// expiries to finish. Sessions are left to the manager's shutdown.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, timer := range b.detached {
		delete(b.detached, id)
		if timer.Stop() {
			b.wg.Done()
		}
	}
	attached := make([]*participant, 0, len(b.participants))
	for _, p := range b.participants {
		attached = append(attached, p)
	}
	b.mu.Unlock()

	b.cancel()
	for _, p := range attached {
		_ = p.conn.Close()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
