package dvbrx

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialScatter(t *testing.T, s *ScatterServer) *websocket.Conn {
	t.Helper()
	var srv = httptest.NewServer(s)
	t.Cleanup(srv.Close)
	var url = "ws" + strings.TrimPrefix(srv.URL, "http")
	var conn, _, err = websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) scatterStatus {
	t.Helper()
	var kind, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var st scatterStatus
	require.NoError(t, json.Unmarshal(data, &st))
	require.Equal(t, "status", st.Type)
	return st
}

func waitClients(t *testing.T, s *ScatterServer, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == n
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScatterServer(t *testing.T) {
	var s = NewScatterServer(nil)
	s.LockState("mpeg", true)
	var conn = dialScatter(t, s)

	var hello = readStatus(t, conn)
	assert.Equal(t, map[string]bool{"mpeg": true}, hello.Locked)
	waitClients(t, s, 1)

	s.Constellation([]complex64{complex(10, -20), complex(300, -300)})
	var kind, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"type":"points","points":[[10,-20],[127,-128]]}`, string(data))

	s.Frequency(0.125)
	s.MER(15)
	var st = readStatus(t, conn)
	assert.InDelta(t, 15, st.MER, 0)
	assert.InDelta(t, 0.125, st.Frequency, 0)

	// Repeated lock state is not resent; the next message is the change.
	s.LockState("mpeg", true)
	s.LockState("mpeg", false)
	st = readStatus(t, conn)
	assert.False(t, st.Locked["mpeg"])
}

func TestScatterServerClientLeaves(t *testing.T) {
	var s = NewScatterServer(nil)
	var conn = dialScatter(t, s)
	readStatus(t, conn)
	waitClients(t, s, 1)
	conn.Close()
	waitClients(t, s, 0)
	// No clients: must not block or panic.
	s.Constellation(make([]complex64, 100))
	s.MER(3)
}

func TestScatterServerSlowClient(t *testing.T) {
	var s = NewScatterServer(nil)
	var conn = dialScatter(t, s)
	readStatus(t, conn)
	waitClients(t, s, 1)

	var done = make(chan struct{})
	go func() {
		defer close(done)
		for range 10 * scatterQueue {
			s.Constellation(make([]complex64, 4096))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Constellation blocked")
	}
}
