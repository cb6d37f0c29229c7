package dvbrx

/*------------------------------------------------------------------
 *
 * Purpose:   	Live constellation and status over a websocket.
 *
 * Description:	Each batch of constellation samples goes out as one
 *		JSON message of [I,Q] pairs in the demapper's integer
 *		scale, clipped to a signed byte.  Lock changes and
 *		measurements go out as status messages.
 *
 *		Diagnostics calls must not block the pipeline, so every
 *		client has a small queue and misses messages when it
 *		falls behind.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	scatterQueue        = 16
	scatterWriteTimeout = 10 * time.Second
)

type scatterStatus struct {
	Type      string          `json:"type"` // Always "status".
	Locked    map[string]bool `json:"locked"`
	Frequency float32         `json:"frequency"`
	RMS       float32         `json:"rms"`
	MER       float32         `json:"mer"`
}

type scatterPoints struct {
	Type   string    `json:"type"` // Always "points".
	Points [][2]int8 `json:"points"`
}

type scatterMessage struct {
	kind int
	data []byte
}

type scatterClient struct {
	conn  *websocket.Conn
	queue chan scatterMessage
}

type ScatterServer struct {
	noDiag
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*scatterClient]struct{}
	status  scatterStatus
	dropped uint64
}

func NewScatterServer(logger *log.Logger) *ScatterServer {
	return &ScatterServer{
		logger: orDefaultLogger(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*scatterClient]struct{}),
		status:  scatterStatus{Type: "status", Locked: make(map[string]bool)},
	}
}

func (s *ScatterServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var conn, err = s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("scatter: upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}
	var c = &scatterClient{conn: conn, queue: make(chan scatterMessage, scatterQueue)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	if hello, err := json.Marshal(s.status); err == nil {
		c.queue <- scatterMessage{websocket.TextMessage, hello}
	}
	s.mu.Unlock()
	s.logger.Info("scatter: client connected", "remote", r.RemoteAddr)

	go s.reader(c)
	s.writer(c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	conn.Close()
	s.logger.Info("scatter: client gone", "remote", r.RemoteAddr)
}

// reader discards client messages and closes the queue when the peer goes away.
func (s *ScatterServer) reader(c *scatterClient) {
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[c]; ok {
			delete(s.clients, c)
			close(c.queue)
		}
		s.mu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *ScatterServer) writer(c *scatterClient) {
	for m := range c.queue {
		c.conn.SetWriteDeadline(time.Now().Add(scatterWriteTimeout))
		if err := c.conn.WriteMessage(m.kind, m.data); err != nil {
			s.logger.Debug("scatter: write", "err", err)
			c.conn.Close()
			for range c.queue {
			}
			return
		}
	}
}

// broadcast must be called with s.mu held.
func (s *ScatterServer) broadcast(m scatterMessage) {
	for c := range s.clients {
		select {
		case c.queue <- m:
		default:
			s.dropped++
		}
	}
}

func (s *ScatterServer) sendStatus() {
	if len(s.clients) == 0 {
		return
	}
	var b, err = json.Marshal(s.status)
	if err != nil {
		return
	}
	s.broadcast(scatterMessage{websocket.TextMessage, b})
}

func (s *ScatterServer) LockState(stage string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if was, ok := s.status.Locked[stage]; ok && was == locked {
		return
	}
	s.status.Locked[stage] = locked
	s.sendStatus()
}

func (s *ScatterServer) Frequency(f float32) {
	s.mu.Lock()
	s.status.Frequency = f
	s.mu.Unlock()
}

func (s *ScatterServer) SignalStrength(rms float32) {
	s.mu.Lock()
	s.status.RMS = rms
	s.mu.Unlock()
}

// MER comes last in each measurement round, so it triggers the update.
func (s *ScatterServer) MER(db float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.MER = db
	s.sendStatus()
}

func (s *ScatterServer) Constellation(points []complex64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 || len(points) == 0 {
		return
	}
	var msg = scatterPoints{Type: "points", Points: make([][2]int8, len(points))}
	for i, p := range points {
		msg.Points[i] = [2]int8{clampInt8(real(p)), clampInt8(imag(p))}
	}
	var b, err = json.Marshal(msg)
	if err != nil {
		return
	}
	s.broadcast(scatterMessage{websocket.TextMessage, b})
}

func clampInt8(v float32) int8 {
	return int8(max(-128, min(127, math.Round(float64(v)))))
}
