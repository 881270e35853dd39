package plugin

import (
	"testing"
	"time"
)

func TestScriptedTransportReplaysMessagesInOrder(t *testing.T) {
	ts := NewScriptedTransport(
		WireMessage{Kind: KindHandshakeAck, Accepted: true},
		WireMessage{Kind: KindPong, RequestID: "ping-1"},
	)

	first, err := ts.Recv(time.Now().Add(time.Second))
	if err != nil || first.Kind != KindHandshakeAck {
		t.Fatalf("unexpected first message: %+v, err %v", first, err)
	}
	second, err := ts.Recv(time.Now().Add(time.Second))
	if err != nil || second.Kind != KindPong || second.RequestID != "ping-1" {
		t.Fatalf("unexpected second message: %+v, err %v", second, err)
	}
}

func TestScriptedTransportOnSendScriptsDynamicReplies(t *testing.T) {
	ts := NewScriptedTransport()
	ts.OnSend = func(msg WireMessage) (WireMessage, bool) {
		if msg.Kind == KindPing {
			return WireMessage{Kind: KindPong, RequestID: msg.RequestID}, true
		}
		return WireMessage{}, false
	}

	if err := ts.Send(WireMessage{Kind: KindPing, RequestID: "p-1"}); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	reply, err := ts.Recv(time.Now().Add(time.Second))
	if err != nil || reply.Kind != KindPong || reply.RequestID != "p-1" {
		t.Fatalf("expected a scripted pong, got %+v, err %v", reply, err)
	}
}

func TestScriptedTransportRecvTimesOutWhenInboundIsEmpty(t *testing.T) {
	ts := NewScriptedTransport()
	_, err := ts.Recv(time.Now().Add(20 * time.Millisecond))
	if !IsTimeout(err) {
		t.Fatalf("expected a timeout error, got %v", err)
	}
}

func TestScriptedTransportHangRecvAlwaysTimesOut(t *testing.T) {
	ts := NewScriptedTransport(WireMessage{Kind: KindPong})
	ts.HangRecv()

	_, err := ts.Recv(time.Now().Add(20 * time.Millisecond))
	if !IsTimeout(err) {
		t.Fatalf("expected HangRecv to force a timeout even with queued messages, got %v", err)
	}
}

func TestScriptedTransportTerminateIsIdempotent(t *testing.T) {
	ts := NewScriptedTransport()
	ts.Terminate()
	ts.Terminate()
	if !ts.Terminated() {
		t.Fatal("expected Terminated to report true after Terminate")
	}
}

func TestScriptedTransportSentMessagesRecordsEveryOutboundFrame(t *testing.T) {
	ts := NewScriptedTransport()
	_ = ts.Send(WireMessage{Kind: KindHandshake, PluginID: "demo"})
	_ = ts.Send(WireMessage{Kind: KindPing, RequestID: "p-1"})

	sent := ts.SentMessages()
	if len(sent) != 2 || sent[0].Kind != KindHandshake || sent[1].Kind != KindPing {
		t.Fatalf("unexpected recorded sends: %+v", sent)
	}
}
