package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/venue"
)

// fakeVenue is a loopback websocket endpoint. It records inbound frames,
// ping control frames and the close codes clients send; an optional
// script goroutine drives each accepted connection.
type fakeVenue struct {
	srv    *httptest.Server
	script func(idx int, c *websocket.Conn)

	mu       sync.Mutex
	accepted int
	frames   []string
	pings    int
	codes    []int
	live     []*websocket.Conn
}

func newFakeVenue(t *testing.T, script func(idx int, c *websocket.Conn)) *fakeVenue {
	t.Helper()
	fv := &fakeVenue{script: script}
	upgrader := websocket.Upgrader{}
	fv.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fv.mu.Lock()
		fv.accepted++
		idx := fv.accepted
		fv.live = append(fv.live, c)
		fv.mu.Unlock()
		if fv.script != nil {
			go fv.script(idx, c)
		}
		fv.pump(c)
	}))
	t.Cleanup(fv.srv.Close)
	return fv
}

func (fv *fakeVenue) pump(c *websocket.Conn) {
	defer c.Close()
	c.SetPingHandler(func(appData string) error {
		fv.mu.Lock()
		fv.pings++
		fv.mu.Unlock()
		return c.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				fv.mu.Lock()
				fv.codes = append(fv.codes, ce.Code)
				fv.mu.Unlock()
			}
			return
		}
		fv.mu.Lock()
		fv.frames = append(fv.frames, string(msg))
		fv.mu.Unlock()
	}
}

func (fv *fakeVenue) URL() string {
	return "ws" + strings.TrimPrefix(fv.srv.URL, "http")
}

func (fv *fakeVenue) Accepted() int {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	return fv.accepted
}

func (fv *fakeVenue) Frames() []string {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	return append([]string(nil), fv.frames...)
}

func (fv *fakeVenue) Pings() int {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	return fv.pings
}

func (fv *fakeVenue) Codes() []int {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	return append([]int(nil), fv.codes...)
}

// DropAll severs every accepted connection server-side
func (fv *fakeVenue) DropAll() {
	fv.mu.Lock()
	conns := append([]*websocket.Conn(nil), fv.live...)
	fv.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func TestConn_SendDeliversFramesInOrder(t *testing.T) {
	fv := newFakeVenue(t, nil)

	conn := NewConn(ConnConfig{Venue: market.Binance, URL: fv.URL()})
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	frames := []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}
	for _, f := range frames {
		require.NoError(t, conn.Send(context.Background(), []byte(f)))
	}

	require.Eventually(t, func() bool {
		return len(fv.Frames()) == len(frames)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, frames, fv.Frames())
}

func TestConn_InboundFramesPreserveOrder(t *testing.T) {
	sent := []string{"a", "b", "c", "d", "e"}
	fv := newFakeVenue(t, func(_ int, c *websocket.Conn) {
		for _, f := range sent {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var got []string
	conn := NewConn(ConnConfig{
		Venue: market.OKX,
		URL:   fv.URL(),
		OnFrame: func(_ string, frame []byte) {
			mu.Lock()
			got = append(got, string(frame))
			mu.Unlock()
		},
	})
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(sent)
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, sent, got)
}

func TestConn_HeartbeatPayload(t *testing.T) {
	fv := newFakeVenue(t, nil)

	conn := NewConn(ConnConfig{
		Venue:             market.Bybit,
		URL:               fv.URL(),
		Heartbeat:         venue.Heartbeat{Payload: func() []byte { return []byte(`{"op":"ping"}`) }},
		HeartbeatInterval: 50 * time.Millisecond,
	})
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	require.Eventually(t, func() bool {
		pings := 0
		for _, f := range fv.Frames() {
			if f == `{"op":"ping"}` {
				pings++
			}
		}
		return pings >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConn_HeartbeatTransportPing(t *testing.T) {
	fv := newFakeVenue(t, nil)

	conn := NewConn(ConnConfig{
		Venue:             market.Kraken,
		URL:               fv.URL(),
		Heartbeat:         venue.Heartbeat{Transport: true},
		HeartbeatInterval: 50 * time.Millisecond,
	})
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	require.Eventually(t, func() bool {
		return fv.Pings() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConn_WatchdogTripsOnStarvation(t *testing.T) {
	fv := newFakeVenue(t, nil)

	causes := make(chan CloseCause, 1)
	conn := NewConn(ConnConfig{
		Venue:         market.Gate,
		URL:           fv.URL(),
		DataTimeout:   150 * time.Millisecond,
		CheckInterval: 25 * time.Millisecond,
		OnClose: func(_ string, cause CloseCause, _ error) {
			causes <- cause
		},
	})
	require.NoError(t, conn.Open(context.Background()))

	select {
	case cause := <-causes:
		assert.Equal(t, CauseStarvation, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never tripped")
	}

	require.Eventually(t, func() bool {
		return len(fv.Codes()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{CloseCodeStarvation}, fv.Codes())
}

func TestConn_WatchdogHoldsWhileDataFlows(t *testing.T) {
	fv := newFakeVenue(t, func(_ int, c *websocket.Conn) {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if err := c.WriteMessage(websocket.TextMessage, []byte(`{"tick":1}`)); err != nil {
				return
			}
		}
	})

	conn := NewConn(ConnConfig{
		Venue:         market.Bitget,
		URL:           fv.URL(),
		DataTimeout:   200 * time.Millisecond,
		CheckInterval: 25 * time.Millisecond,
	})
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, StateOpen, conn.State())
	assert.Empty(t, fv.Codes())
}

func TestConn_CloseIsIdempotentAndOrderly(t *testing.T) {
	fv := newFakeVenue(t, nil)

	var mu sync.Mutex
	closes := 0
	var cause CloseCause
	conn := NewConn(ConnConfig{
		Venue: market.KuCoin,
		URL:   fv.URL(),
		OnClose: func(_ string, c CloseCause, _ error) {
			mu.Lock()
			closes++
			cause = c
			mu.Unlock()
		},
	})
	require.NoError(t, conn.Open(context.Background()))

	conn.Close()
	conn.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closes == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, CauseStop, cause)
	mu.Unlock()

	require.Eventually(t, func() bool {
		return len(fv.Codes()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{websocket.CloseNormalClosure}, fv.Codes())

	assert.ErrorIs(t, conn.Send(context.Background(), []byte("late")), ErrNotConnected)
}

func TestConn_OpenFailsWhenServerIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	conn := NewConn(ConnConfig{Venue: market.Deribit, URL: url})
	err := conn.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
	assert.Equal(t, StateClosed, conn.State())
}
