package relay

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/astreum/astreum-go/src/common"
)

const testMaxMessageSize = 8192

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	trans, err := NewTransport("127.0.0.1:0", false, testMaxMessageSize, 2,
		common.NewTestEntry(t, "relay"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { trans.Close() })
	return trans
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		Topic:   TopicObjectRequest,
		Sender:  []byte("sender-key"),
		Token:   []byte("token"),
		Payload: []byte("payload"),
		Sig:     []byte("signature"),
	}

	data, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	parsed := new(Envelope)
	if err := parsed.Unmarshal(data); err != nil {
		t.Fatal(err)
	}

	if parsed.Topic != env.Topic ||
		!bytes.Equal(parsed.Sender, env.Sender) ||
		!bytes.Equal(parsed.Token, env.Token) ||
		!bytes.Equal(parsed.Payload, env.Payload) ||
		!bytes.Equal(parsed.Sig, env.Sig) {
		t.Fatalf("envelope changed across round trip: %+v", parsed)
	}
}

func TestTopicNamespace(t *testing.T) {
	if TopicPing.IsValidation() {
		t.Fatal("peer topic should not carry the validation bit")
	}

	vt := TopicPing.Validation()
	if !vt.IsValidation() {
		t.Fatal("validation variant should carry the validation bit")
	}
	if vt.Base() != TopicPing {
		t.Fatal("masking the validation bit should recover the base topic")
	}
	if vt.String() != "validation-ping" {
		t.Fatalf("unexpected string: %s", vt.String())
	}
}

func TestRequestResponse(t *testing.T) {
	server := newTestTransport(t)
	client := newTestTransport(t)

	server.SetHandler(func(env *Envelope, from *net.UDPAddr) {
		resp := &Envelope{
			Topic:   TopicPong,
			Token:   env.Token,
			Payload: env.Payload,
		}
		if err := server.Send(from.String(), resp); err != nil {
			t.Errorf("send response: %v", err)
		}
	})

	server.Listen()
	client.Listen()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req := &Envelope{Topic: TopicPing, Payload: []byte("hello")}
	resp, err := client.Request(ctx, server.LocalAddr(), req)
	if err != nil {
		t.Fatal(err)
	}

	if resp.Topic != TopicPong {
		t.Fatalf("expected pong, got %s", resp.Topic)
	}
	if !bytes.Equal(resp.Payload, req.Payload) {
		t.Fatalf("payload mismatch: %q", resp.Payload)
	}
	if !bytes.Equal(resp.Token, req.Token) {
		t.Fatal("response token does not match request token")
	}
}

func TestRequestTimeout(t *testing.T) {
	server := newTestTransport(t)
	client := newTestTransport(t)

	// server never answers
	server.Listen()
	client.Listen()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := &Envelope{Topic: TopicPing}
	if _, err := client.Request(ctx, server.LocalAddr(), req); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestSendTooLarge(t *testing.T) {
	client := newTestTransport(t)
	client.Listen()

	env := &Envelope{
		Topic:   TopicObjectResponse,
		Payload: bytes.Repeat([]byte{0x01}, testMaxMessageSize+1),
	}

	if err := client.Send("127.0.0.1:9", env); err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestCloseUnblocksRequest(t *testing.T) {
	server := newTestTransport(t)
	client := newTestTransport(t)

	server.Listen()
	client.Listen()

	errCh := make(chan error, 1)
	go func() {
		req := &Envelope{Topic: TopicPing}
		_, err := client.Request(context.Background(), server.LocalAddr(), req)
		errCh <- err
	}()

	// give the request a moment to register
	time.Sleep(100 * time.Millisecond)

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err != ErrTransportShutdown {
			t.Fatalf("expected ErrTransportShutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("request did not unblock on close")
	}
}
