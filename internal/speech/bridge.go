package speech

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"voice-relay/pkg/config"
	"voice-relay/pkg/connection"
	"voice-relay/pkg/errreport"
	"voice-relay/pkg/retry"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected      = errors.New("not connected")
	ErrResponseInFlight  = errors.New("response already in flight")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrConnectAborted    = errors.New("host disconnected while connecting")
)

// Downstream receives bridge notifications for a host.
type Downstream interface {
	SpeechConnected(hostID string)
	SpeechDisconnected(hostID string)
	SpeechError(hostID, text string)
	SpeechMessage(hostID string, event json.RawMessage)
}

type upstream struct {
	hostID   string
	sock     *connection.Socket
	inFlight atomic.Bool
	closing  atomic.Bool
}

// pendingDial marks a host whose upstream session is being dialed.
type pendingDial struct {
	cancel context.CancelFunc
}

// Bridge keeps one upstream realtime session per host.
type Bridge struct {
	cfg      config.Speech
	down     Downstream
	dial     DialFunc
	policy   retry.Policy
	reporter *errreport.Reporter

	mu      sync.Mutex
	conns   map[string]*upstream
	dialing map[string]*pendingDial
}

type Option func(*Bridge)

func WithDialer(dial DialFunc) Option {
	return func(b *Bridge) { b.dial = dial }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(b *Bridge) { b.policy = p }
}

func WithReporter(r *errreport.Reporter) Option {
	return func(b *Bridge) { b.reporter = r }
}

func NewBridge(cfg config.Speech, down Downstream, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		down:    down,
		dial:    DialRealtime,
		policy:  retry.DefaultPolicy(),
		conns:   make(map[string]*upstream),
		dialing: make(map[string]*pendingDial),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) lookup(hostID string) *upstream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[hostID]
}

func (b *Bridge) report(kind errreport.Kind, context string, err error) {
	if b.reporter != nil {
		b.reporter.Report(kind, context, err)
	}
}

// Connected reports whether hostID has an open upstream session.
func (b *Bridge) Connected(hostID string) bool {
	return b.lookup(hostID) != nil
}

// Connect opens the upstream session for hostID, configures it and notifies
// the host. Connecting an already connected host only repeats the notification.
// The dial is abandoned when ctx ends or Disconnect(hostID) is called meanwhile.
func (b *Bridge) Connect(ctx context.Context, hostID string) error {
	if b.cfg.APIKey == "" {
		return errreport.Wrap(errreport.KindUpstream, "connect speech", config.ErrMissingAPIKey)
	}
	if b.Connected(hostID) {
		b.down.SpeechConnected(hostID)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pending := &pendingDial{cancel: cancel}
	b.mu.Lock()
	if _, ok := b.dialing[hostID]; ok {
		b.mu.Unlock()
		return errreport.Wrap(errreport.KindUpstream, "connect speech", ErrConnectInProgress)
	}
	b.dialing[hostID] = pending
	b.mu.Unlock()

	var sock *connection.Socket
	err := retry.Do(ctx, "speech upstream", b.policy, func(ctx context.Context, attempt int) error {
		s, err := b.dial(ctx, b.cfg)
		if err != nil {
			log.Warn().Err(err).Str("host", hostID).Int("attempt", attempt).Msg("Speech service dial failed")
			return err
		}
		sock = s
		return nil
	})

	b.mu.Lock()
	owned := b.dialing[hostID] == pending
	if owned {
		delete(b.dialing, hostID)
	}
	aborted := !owned || ctx.Err() != nil
	if err != nil {
		b.mu.Unlock()
		if aborted {
			log.Info().Str("host", hostID).Msg("Speech connect abandoned")
			return errreport.Wrap(errreport.KindUpstream, "connect speech", ErrConnectAborted)
		}
		b.report(errreport.KindUpstream, "speech connect "+hostID, err)
		return errreport.Wrap(errreport.KindUpstream, "connect speech", err)
	}
	if aborted {
		b.mu.Unlock()
		discard(sock)
		log.Info().Str("host", hostID).Msg("Host left during speech connect, closing upstream session")
		return errreport.Wrap(errreport.KindUpstream, "connect speech", ErrConnectAborted)
	}
	if _, ok := b.conns[hostID]; ok {
		b.mu.Unlock()
		discard(sock)
		b.down.SpeechConnected(hostID)
		return nil
	}
	up := &upstream{hostID: hostID, sock: sock}
	b.conns[hostID] = up
	b.mu.Unlock()

	go sock.WritePump()
	go b.readLoop(up)

	if !sock.Send(SessionUpdate(b.cfg)) {
		b.Disconnect(hostID)
		return errreport.Wrap(errreport.KindUpstream, "configure speech session", ErrNotConnected)
	}
	log.Info().Str("host", hostID).Str("model", b.cfg.Model).Msg("Speech service connected")
	b.down.SpeechConnected(hostID)
	return nil
}

// readLoop forwards upstream events until the session ends, then notifies
// the host exactly once.
func (b *Bridge) readLoop(up *upstream) {
	err := up.sock.ReadPump(func(data []byte) {
		b.handleUpstream(up, data)
	})

	b.mu.Lock()
	if b.conns[up.hostID] == up {
		delete(b.conns, up.hostID)
	}
	b.mu.Unlock()

	if !up.closing.Load() {
		if err == nil {
			err = ErrNotConnected
		}
		log.Warn().Err(err).Str("host", up.hostID).Msg("Speech service connection lost")
		b.report(errreport.KindUpstream, "speech session "+up.hostID, err)
		b.down.SpeechError(up.hostID, "speech service connection lost")
	}
	log.Info().Str("host", up.hostID).Msg("Speech service disconnected")
	b.down.SpeechDisconnected(up.hostID)
}

func (b *Bridge) handleUpstream(up *upstream, data []byte) {
	ev, err := ParseEvent(data)
	if err != nil {
		log.Warn().Err(err).Str("host", up.hostID).Msg("Dropping malformed upstream event")
		b.report(errreport.KindMalformed, "speech upstream", err)
		return
	}

	switch {
	case ev.Type == EventError && ev.Error != nil:
		log.Warn().Str("host", up.hostID).Str("code", ev.Error.Code).Str("error", ev.Error.Message).Msg("Speech service reported an error")
	case ev.Type != EventAudioDelta:
		log.Debug().Str("host", up.hostID).Str("type", ev.Type).Msg("Speech event")
	}
	if ev.Completes() {
		up.inFlight.Store(false)
	}
	b.down.SpeechMessage(up.hostID, json.RawMessage(data))
}

// Send forwards a client event verbatim. A second response request while
// one is in flight is dropped. Malformed events are logged and dropped.
func (b *Bridge) Send(hostID string, event json.RawMessage) error {
	up := b.lookup(hostID)
	if up == nil {
		return ErrNotConnected
	}
	ev, err := ParseEvent(event)
	if err != nil {
		log.Warn().Err(err).Str("host", hostID).Msg("Dropping malformed speech event from host")
		b.report(errreport.KindMalformed, "speech send", err)
		return nil
	}
	if ev.Type == EventResponseCreate && !up.inFlight.CompareAndSwap(false, true) {
		log.Debug().Str("host", hostID).Msg("Response already in flight, dropping request")
		return nil
	}
	if !up.sock.Send(event) {
		return ErrNotConnected
	}
	return nil
}

// ForwardAudio appends one captured PCM16 frame to the upstream buffer.
func (b *Bridge) ForwardAudio(hostID string, pcm []byte) error {
	up := b.lookup(hostID)
	if up == nil || !up.sock.Send(AppendAudio(pcm)) {
		return ErrNotConnected
	}
	return nil
}

// RequestResponse commits the buffered audio and asks for a response, as one
// ordered pair. It does nothing while a response is in flight.
func (b *Bridge) RequestResponse(hostID string) error {
	up := b.lookup(hostID)
	if up == nil {
		return ErrNotConnected
	}
	if !up.inFlight.CompareAndSwap(false, true) {
		return ErrResponseInFlight
	}
	if !up.sock.Send(CommitAudio()) || !up.sock.Send(CreateResponse()) {
		up.inFlight.Store(false)
		return ErrNotConnected
	}
	return nil
}

// Disconnect closes the upstream session of hostID, or abandons its dial.
// The host is notified from the read loop once an open session has ended.
func (b *Bridge) Disconnect(hostID string) bool {
	b.mu.Lock()
	pending, dialing := b.dialing[hostID]
	delete(b.dialing, hostID)
	up, ok := b.conns[hostID]
	delete(b.conns, hostID)
	b.mu.Unlock()

	if dialing {
		pending.cancel()
	}
	if ok {
		up.closing.Store(true)
		up.sock.Close()
	}
	return ok || dialing
}

// discard closes a socket whose pumps never started.
func discard(sock *connection.Socket) {
	sock.Close()
	go sock.WritePump()
}

// Close disconnects every host.
func (b *Bridge) Close() {
	b.mu.Lock()
	hosts := make([]string, 0, len(b.conns)+len(b.dialing))
	for id := range b.conns {
		hosts = append(hosts, id)
	}
	for id := range b.dialing {
		hosts = append(hosts, id)
	}
	b.mu.Unlock()
	for _, id := range hosts {
		b.Disconnect(id)
	}
}
