package ws

import (
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestClient(hub *Hub, sessionID string) *Client {
	c := NewClient(hub, nil, nil)
	c.sessionID = sessionID
	return c
}

func drain(c *Client) []string {
	var out []string
	for msg := range c.SendChan() {
		out = append(out, string(msg))
	}
	return out
}

// Output chunks queued on a client come out in order and unmodified, and
// nothing is accepted once the client is closed.
func TestClientDeliveryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("queued chunks are delivered in order", prop.ForAll(
		func(chunks []string) bool {
			if len(chunks) > sendBufferSize {
				chunks = chunks[:sendBufferSize]
			}
			c := newTestClient(NewHub(), "s")
			for _, chunk := range chunks {
				c.Send([]byte(chunk))
			}
			c.Close()
			c.Send([]byte("late"))

			got := drain(c)
			if len(got) != len(chunks) {
				return false
			}
			for i := range chunks {
				if got[i] != chunks[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.Property("concurrent senders never panic", prop.ForAll(
		func(senders int) bool {
			c := newTestClient(NewHub(), "s")

			var wg sync.WaitGroup
			for i := 0; i < senders; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						c.Send([]byte("x"))
					}
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Close()
			}()
			wg.Wait()

			drain(c)
			return c.IsClosed()
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func TestClientOverflowCloses(t *testing.T) {
	c := newTestClient(NewHub(), "s")
	for i := 0; i < sendBufferSize; i++ {
		c.Send([]byte("x"))
	}
	if c.IsClosed() {
		t.Fatal("client closed before buffer filled")
	}

	c.Send([]byte("overflow"))
	if !c.IsClosed() {
		t.Fatal("expected slow client to be closed")
	}
	if n := len(drain(c)); n != sendBufferSize {
		t.Errorf("expected %d queued chunks, got %d", sendBufferSize, n)
	}
}

// registered returns the client the hub holds for a session, or nil.
func registered(hub *Hub, sessionID string) *Client {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.clients[sessionID]
}

func TestHubClientManagement(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	client1 := newTestClient(hub, "session-1")
	client2 := newTestClient(hub, "session-2")
	hub.Register(client1)
	hub.Register(client2)

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
	if registered(hub, "session-1") != client1 {
		t.Error("hub returned the wrong client")
	}

	hub.Unregister(client1)
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after unregister, got %d", hub.ClientCount())
	}
	if !client1.IsClosed() {
		t.Error("unregistered client should be closed")
	}
	if registered(hub, "session-1") != nil {
		t.Error("unregistered client still registered")
	}

	hub.Close()
	if hub.ClientCount() != 0 || !client2.IsClosed() {
		t.Error("Close should close and drop every client")
	}
}

func TestHubUnregisterKeepsReplacement(t *testing.T) {
	hub := NewHub()
	stale := newTestClient(hub, "s")
	fresh := newTestClient(hub, "s")
	hub.Register(stale)
	hub.Register(fresh)

	hub.Unregister(stale)
	if registered(hub, "s") != fresh {
		t.Error("unregistering a replaced client removed its successor")
	}
}

func TestMessageType(t *testing.T) {
	if messageType([]byte("plain ✓")) != websocket.TextMessage {
		t.Error("valid UTF-8 should be sent as text")
	}
	if messageType([]byte{0xff, 0xfe}) != websocket.BinaryMessage {
		t.Error("invalid UTF-8 should be sent as binary")
	}
}
