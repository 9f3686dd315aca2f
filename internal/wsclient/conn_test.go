package wsclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sheerbytes/camrelay/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// feedServer upgrades every request, writes records, then closes.
func feedServer(t *testing.T, records ...string) (*httptest.Server, func() (int, string)) {
	t.Helper()
	var mu sync.Mutex
	connects := 0
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connects++
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, rec := range records {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(rec)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(server.Close)
	return server, func() (int, string) {
		mu.Lock()
		defer mu.Unlock()
		return connects, auth
	}
}

func TestReadLoopDecodesRecords(t *testing.T) {
	server, stats := feedServer(t,
		`{"name":"camera","data":"{}","published_at":"2020-10-01T12:00:00.000Z","coreid":"dev1"}`,
		`not json`,
		`{"name":"camera","data":"{}"}`,
		`{"name":"loc","data":"{\"lat\":1}","coreid":"dev2"}`,
	)

	conn, err := Dial(context.Background(), wsURL(server), "tok", testLogger())
	require.NoError(t, err)
	defer conn.Close()

	var events []protocol.Event
	err = conn.ReadLoop(context.Background(), protocol.DefaultNames(), func(ev protocol.Event) {
		events = append(events, ev)
	})
	require.Error(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, protocol.KindTransfer, events[0].Kind)
	assert.Equal(t, "dev1", events[0].DeviceID)
	assert.Equal(t, "2020-10-01T12:00:00.000Z", events[0].Timestamp)
	assert.Equal(t, protocol.KindLocation, events[1].Kind)
	assert.Equal(t, `{"lat":1}`, events[1].Payload)

	_, auth := stats()
	assert.Equal(t, "Bearer tok", auth)
}

func TestDialRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad token"))
	}))
	defer server.Close()

	_, err := Dial(context.Background(), wsURL(server), "", testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad token")
}

func TestReadLoopStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	conn, err := Dial(context.Background(), wsURL(server), "", testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- conn.ReadLoop(ctx, protocol.DefaultNames(), func(protocol.Event) {})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadLoop did not return after cancel")
	}
}

func TestSourceReconnects(t *testing.T) {
	server, stats := feedServer(t, `{"name":"camera","data":"x","coreid":"dev1"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := &Source{URL: wsURL(server), ReconnectDelay: 10 * time.Millisecond, Logger: testLogger()}
	var got int
	err := src.Run(ctx, func(ev protocol.Event) {
		got++
		if got == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, got)

	connects, _ := stats()
	assert.GreaterOrEqual(t, connects, 3)
}
