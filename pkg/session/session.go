package session

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/eventbus"
	"github.com/go-go-golems/parley/pkg/persistence/snapshotstore"
	"github.com/go-go-golems/parley/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/parley/pkg/transport"
	"github.com/go-go-golems/parley/pkg/wire"
)

// Config addresses one conversation stream on the backend.
type Config struct {
	BaseURL        string
	Token          string
	ConversationID string
}

// Session owns a single logical connection to the chat backend and the
// state reconstructed from it. It is explicitly constructed with injectable
// persistence and transport, one instance per conversation.
//
// Raw frames flow from the connection manager onto the bus; a single
// consume goroutine decodes them and applies the typed events to the
// reducer in strict arrival order.
type Session struct {
	cfg     Config
	topic   string
	reducer *Reducer
	manager *transport.Manager
	dialer  transport.Dialer
	bus     *eventbus.Bus
	ownBus  bool

	snapshots   snapshotstore.Store
	transcripts transcriptstore.Store
	onEvent     func(wire.Event)

	cancelConsume context.CancelFunc
	done          chan struct{}
}

// Option configures a Session.
type Option func(*Session) error

// WithDialer overrides the websocket dialer (tests inject a fake).
func WithDialer(d transport.Dialer) Option {
	return func(s *Session) error {
		s.dialer = d
		return nil
	}
}

// WithBus supplies an externally owned frame bus. The session will not
// close it.
func WithBus(bus *eventbus.Bus) Option {
	return func(s *Session) error {
		s.bus = bus
		s.ownBus = false
		return nil
	}
}

// WithSnapshotStore sets the persistence port for transient streaming
// state.
func WithSnapshotStore(store snapshotstore.Store) Option {
	return func(s *Session) error {
		s.snapshots = store
		return nil
	}
}

// WithEventHandler registers a callback invoked after each decoded event
// has been applied, from the consume goroutine. Keep it fast; the stream
// does not advance until it returns.
func WithEventHandler(f func(wire.Event)) Option {
	return func(s *Session) error {
		s.onEvent = f
		return nil
	}
}

// WithTranscriptStore enables durable persistence of finalized messages.
func WithTranscriptStore(store transcriptstore.Store) Option {
	return func(s *Session) error {
		s.transcripts = store
		return nil
	}
}

// New builds a session. Defaults: gorilla websocket dialer, in-memory
// frame bus, in-memory snapshot store, no transcript store.
func New(cfg Config, opts ...Option) (*Session, error) {
	if cfg.ConversationID == "" {
		return nil, errors.New("session: conversation id is empty")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("session: base url is empty")
	}
	s := &Session{
		cfg:       cfg,
		topic:     "chat:" + cfg.ConversationID,
		snapshots: snapshotstore.NewInMemoryStore(),
		dialer:    &transport.WebsocketDialer{},
		ownBus:    true,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.bus == nil {
		bus, err := eventbus.Build(eventbus.Settings{})
		if err != nil {
			return nil, errors.Wrap(err, "session: build frame bus")
		}
		s.bus = bus
	}
	s.reducer = NewReducer(cfg.ConversationID, s.snapshots, s.transcripts)

	endpoint, err := transport.Endpoint(cfg.BaseURL, cfg.ConversationID, cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "session: derive endpoint")
	}
	ping, err := wire.Encode(&wire.PingCommand{})
	if err != nil {
		return nil, err
	}
	s.manager = transport.NewManager(s.dialer, endpoint,
		transport.WithFrameHandler(s.publishFrame),
		transport.WithKeepalive(ping, transport.DefaultPingInterval),
	)
	return s, nil
}

// Start rehydrates persisted state, starts the consume loop and connects
// the transport.
func (s *Session) Start(ctx context.Context) error {
	if snap, ok, err := s.snapshots.Load(ctx, s.cfg.ConversationID); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("snapshot load failed, starting cold")
	} else if ok {
		s.reducer.Rehydrate(snap)
		log.Info().Str("component", "session").Str("conv_id", s.cfg.ConversationID).
			Bool("streaming", snap.IsStreaming).Msg("rehydrated session snapshot")
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	s.cancelConsume = cancel
	ch, err := s.bus.Subscriber.Subscribe(consumeCtx, s.topic)
	if err != nil {
		cancel()
		return errors.Wrap(err, "session: subscribe to frame topic")
	}
	go s.consume(ch)

	s.manager.Connect(ctx)
	return nil
}

func (s *Session) publishFrame(data []byte) {
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := s.bus.Publisher.Publish(s.topic, msg); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("failed to publish inbound frame")
	}
}

// consume applies frames in strict arrival order; it is the only writer of
// reducer state, so every transition runs to completion before the next
// frame is looked at.
func (s *Session) consume(ch <-chan *message.Message) {
	defer close(s.done)
	for msg := range ch {
		ev := wire.Decode(msg.Payload)
		if ev != nil {
			s.reducer.Apply(context.Background(), ev)
			if s.onEvent != nil {
				s.onEvent(ev)
			}
		}
		msg.Ack()
	}
}

// SendMessage optimistically appends a local user message and submits it.
// The command is silently dropped by the transport when not connected;
// callers should check ConnectionStatus first when that matters.
func (s *Session) SendMessage(ctx context.Context, content string, attachments []wire.Attachment) error {
	s.reducer.AppendUserMessage(ctx, content, attachments)
	data, err := wire.Encode(&wire.MessageCommand{Content: content, Attachments: attachments})
	if err != nil {
		return err
	}
	s.manager.Send(data)
	return nil
}

// Cancel requests cancellation of the in-flight stream. Fire-and-forget:
// local state only changes when the server answers with stream_cancelled
// or error.
func (s *Session) Cancel() error {
	data, err := wire.Encode(&wire.CancelCommand{})
	if err != nil {
		return err
	}
	s.manager.Send(data)
	return nil
}

// ManualRetry skips any pending reconnect backoff.
func (s *Session) ManualRetry() {
	s.manager.ManualRetry()
}

// Close tears down the transport and the consume loop.
func (s *Session) Close() error {
	s.manager.Disconnect()
	if s.cancelConsume != nil {
		s.cancelConsume()
	}
	if s.ownBus && s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

// ConnectionStatus reports the transport state and reconnect attempt count.
func (s *Session) ConnectionStatus() (transport.Status, int) {
	return s.manager.Status()
}

// Reducer exposes the conversation state for the surrounding UI.
func (s *Session) Reducer() *Reducer {
	return s.reducer
}
