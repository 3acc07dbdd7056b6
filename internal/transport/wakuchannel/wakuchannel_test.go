package wakuchannel

import (
	"context"
	"testing"
	"time"

	"github.com/meshid-core/core/internal/ports"
)

func mustStart(t *testing.T, selfURI string) *Node {
	t.Helper()
	n := NewNode(DefaultConfig())
	if err := n.Start(context.Background(), selfURI); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { n.Stop(context.Background()) })
	return n
}

func TestDhtPutGetRoundTrip(t *testing.T) {
	n := mustStart(t, "alice@mesh")

	if err := n.Put(context.Background(), "account-key", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	values, err := n.Get(context.Background(), "account-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(values) != 1 || string(values[0]) != "hello" {
		t.Fatalf("expected one stored value, got %v", values)
	}
}

func TestDhtListenIsNotifiedOfLaterPuts(t *testing.T) {
	n := mustStart(t, "alice@mesh")

	received := make(chan []byte, 1)
	cancel, err := n.Listen(context.Background(), "announce-key", func(v []byte) { received <- v })
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer cancel()

	if err := n.Put(context.Background(), "announce-key", []byte("announcement")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	select {
	case v := <-received:
		if string(v) != "announcement" {
			t.Fatalf("unexpected value: %s", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listener notification")
	}
}

func TestChannelServiceRequestAndAccept(t *testing.T) {
	alice := mustStart(t, "alice@mesh")
	bob := mustStart(t, "bob@mesh")

	accepted := make(chan struct{}, 1)
	var bobSocketFrame []byte
	bobFrame := make(chan []byte, 1)
	bob.OnIncomingChannel("application/im-gitmessage-id", func(sock ports.ChannelSocket) {
		sock.OnReceive(func(f []byte) { bobFrame <- f })
		accepted <- struct{}{}
	})

	aliceSocket, err := alice.RequestChannel(context.Background(), "bob@mesh", "application/im-gitmessage-id")
	if err != nil {
		t.Fatalf("RequestChannel: %v", err)
	}
	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("bob never observed the incoming channel")
	}

	if err := aliceSocket.Send([]byte("clone-request")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case bobSocketFrame = <-bobFrame:
	case <-time.After(time.Second):
		t.Fatal("bob never received alice's frame")
	}
	if string(bobSocketFrame) != "clone-request" {
		t.Fatalf("unexpected frame: %s", bobSocketFrame)
	}
}
