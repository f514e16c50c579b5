// Package monitor publishes source lifecycle events to websocket clients.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lanikai/rtspsource/internal/event"
	"github.com/lanikai/rtspsource/internal/logging"
)

var log = logging.DefaultLogger.WithTag("monitor")

// Events buffered per client. A slow client misses the oldest events.
const clientQueueLength = 64

const writeTimeout = 5 * time.Second

// Message is the JSON form of an event sent to clients.
type Message struct {
	Type   string      `json:"type"`
	Client string      `json:"client,omitempty"`
	Time   time.Time   `json:"time"`
	Event  event.Event `json:"event,omitempty"`
}

type Options struct {
	// Reported at /status, if set.
	Status func() interface{}
}

// Server serves a websocket event feed at /events. Samples are not
// forwarded.
type Server struct {
	Options

	bus    *event.Bus
	router *http.ServeMux
}

func NewServer(bus *event.Bus, opts Options) *Server {
	s := &Server{
		Options: opts,
		bus:     bus,
		router:  http.NewServeMux(),
	}
	s.router.HandleFunc("/events", s.handleWebsocket)
	s.router.HandleFunc("/status", s.handleStatus)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s,
	}
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	log.Info("Serving events at ws://%s/events", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Status == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		log.Warn("status: %v", err)
	}
}

func notSample(e event.Event) bool {
	_, ok := e.(event.MediaSample)
	return !ok
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade websocket connection
	ws, err := new(websocket.Upgrader).Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	id := uuid.New().String()
	events, cancel := s.bus.Channel(clientQueueLength, notSample)
	defer cancel()
	log.Debug("Client %s connected from %s", id, r.RemoteAddr)
	defer log.Debug("Client %s disconnected", id)

	// Incoming messages are ignored; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(m Message) error {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		return ws.WriteJSON(m)
	}
	if err := send(Message{Type: "hello", Client: id, Time: time.Now()}); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := send(Message{Type: e.Name(), Time: time.Now(), Event: e}); err != nil {
				log.Warn("Client %s: %v", id, err)
				return
			}
		}
	}
}
