package rpc

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/livestate"
)

const (
	streamBuffer = 64
	writeTimeout = 10 * time.Second
)

// Stream message kinds.
const (
	KindHello     = "hello"
	KindEvent     = "event"
	KindSnapshot  = "snapshot"
	KindCountdown = "countdown"
)

// StreamMessage is one frame pushed to a websocket client.
type StreamMessage struct {
	Kind       string               `json:"kind"`
	ClientID   string               `json:"client_id,omitempty"`
	InstanceID string               `json:"instance_id"`
	Event      *events.Event        `json:"event,omitempty"`
	Snapshot   *game.Snapshot       `json:"snapshot,omitempty"`
	Countdown  *livestate.Countdown `json:"countdown,omitempty"`
}

// Stream serves /ws?instance=<id>: each connection gets its own synchronizer
// tracking that instance and receives its events, snapshots and countdown
// ticks as JSON frames.
type Stream struct {
	source   livestate.SnapshotSource
	emitter  *events.Emitter
	opts     livestate.Options
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStream creates a Stream. Close ends every open connection.
func NewStream(source livestate.SnapshotSource, emitter *events.Emitter, opts livestate.Options) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		source:  source,
		emitter: emitter,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close disconnects all clients.
func (s *Stream) Close() { s.cancel() }

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	instanceID := r.URL.Query().Get("instance")
	if instanceID == "" {
		http.Error(w, "instance query parameter required", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[rpc] ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	out := make(chan StreamMessage, streamBuffer)
	push := func(m StreamMessage) {
		m.InstanceID = instanceID
		select {
		case out <- m:
		default:
			log.Printf("[rpc] ws %s: client too slow, dropped %s", clientID, m.Kind)
		}
	}
	onEvent := func(ev events.Event) { push(StreamMessage{Kind: KindEvent, Event: &ev}) }
	cb := livestate.Callbacks{
		OnInstanceCreated: onEvent,
		OnGameStarted:     onEvent,
		OnPlayerCommitted: onEvent,
		OnPlayerRevealed:  onEvent,
		OnGameResolved:    onEvent,
		OnGameEnded:       onEvent,
		OnSnapshot:        func(snap game.Snapshot) { push(StreamMessage{Kind: KindSnapshot, Snapshot: &snap}) },
		OnTick: func(_ string, c livestate.Countdown) {
			push(StreamMessage{Kind: KindCountdown, Countdown: &c})
		},
	}

	syncer := livestate.New(s.source, s.emitter, cb, s.opts)
	defer syncer.Close()
	if err := syncer.Track(ctx, instanceID); err != nil {
		log.Printf("[rpc] ws %s: track %s: %v", clientID, instanceID, err)
		return
	}

	// The client never sends anything meaningful; reading detects disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Printf("[rpc] ws %s: streaming instance %s", clientID, instanceID)
	if err := s.write(conn, StreamMessage{Kind: KindHello, ClientID: clientID, InstanceID: instanceID}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case m := <-out:
			if err := s.write(conn, m); err != nil {
				log.Printf("[rpc] ws %s: write: %v", clientID, err)
				return
			}
		}
	}
}

func (s *Stream) write(conn *websocket.Conn, m StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(m)
}
