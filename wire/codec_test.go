package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestOpenRoundTrip(t *testing.T) {
	m := NewOpen(7, PriorityNormal, 42, []Value{Str("hello"), I32(9), Bool(true)})
	got := roundTrip(t, m)
	if got.Type != TypeOpen {
		t.Fatalf("Type = %v, want Open", got.Type)
	}
	if got.Open.PipeID != 7 || got.Open.FunctionID != 42 {
		t.Fatalf("unexpected open fields: %+v", got.Open)
	}
	if len(got.Open.Params) != 3 || got.Open.Params[0].Str != "hello" {
		t.Fatalf("unexpected params: %+v", got.Open.Params)
	}
}

func TestCloseSuccessRoundTrip(t *testing.T) {
	m := NewCloseSuccess(3, I64(1234))
	got := roundTrip(t, m)
	if got.Close.Failed {
		t.Fatalf("expected success close")
	}
	if got.Close.Result.I64 != 1234 {
		t.Fatalf("result = %+v", got.Close.Result)
	}
}

func TestCloseFailureRoundTrip(t *testing.T) {
	m := NewCloseFailure(3, -7, "boom")
	got := roundTrip(t, m)
	if !got.Close.Failed || got.Close.AppCode != -7 || got.Close.Message != "boom" {
		t.Fatalf("unexpected close: %+v", got.Close)
	}
}

func TestBlockRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 100)
	m := NewBlock(9, PriorityNormal, payload, true)
	got := roundTrip(t, m)
	if !bytes.Equal(got.Block.Payload, payload) || !got.Block.EOF {
		t.Fatalf("unexpected block: pipe=%d eof=%v len=%d", got.Block.PipeID, got.Block.EOF, len(got.Block.Payload))
	}
}

func TestBlockRoundTripPreservesLossCounter(t *testing.T) {
	m := NewBlock(9, PriorityNormal, []byte("x"), false)
	m.Block.Loss = 7
	got := roundTrip(t, m)
	if got.Block.Loss != 7 {
		t.Fatalf("loss counter dropped: got %d, want 7", got.Block.Loss)
	}
}

func TestBlockRejectsOversizePayload(t *testing.T) {
	m := NewBlock(1, PriorityNormal, make([]byte, MaxPayloadSize+1), false)
	var buf bytes.Buffer
	if err := Encode(&buf, m); err == nil {
		t.Fatalf("expected error encoding oversize block")
	}
}

func TestSyncConfigRoundTrip(t *testing.T) {
	sc := SyncConfig{
		ProtocolVersion: 0x0100,
		NodeID:          uuid.New(),
		SessionID:       uuid.New(),
		UTCMillis:       1700000000000,
		PingSeconds:     30,
		SessionTimeoutS: 300,
	}
	m := NewSyncConfig(sc)
	got := roundTrip(t, m)
	if got.Control.SyncConfig.NodeID != sc.NodeID || got.Control.SyncConfig.SessionID != sc.SessionID {
		t.Fatalf("uuid mismatch: %+v", got.Control.SyncConfig)
	}
	if got.Control.SyncConfig.PingSeconds != 30 || got.Control.SyncConfig.SessionTimeoutS != 300 {
		t.Fatalf("unexpected config: %+v", got.Control.SyncConfig)
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	got := roundTrip(t, NewPing(0xDEADBEEF))
	if got.Control.Subcode != SubcodePing || got.Control.PingNonce != 0xDEADBEEF {
		t.Fatalf("unexpected ping: %+v", got.Control)
	}
	got = roundTrip(t, NewPong(0xDEADBEEF))
	if got.Control.Subcode != SubcodePong || got.Control.PingNonce != 0xDEADBEEF {
		t.Fatalf("unexpected pong: %+v", got.Control)
	}
}

func TestNestedValueRoundTrip(t *testing.T) {
	v := List([]Value{
		Tuple("point", []Value{I32(1), I32(2)}),
		Map([]MapEntry{{Key: Str("k"), Val: Bin([]byte{1, 2, 3})}}),
		Null(),
	})
	m := NewCloseSuccess(1, v)
	got := roundTrip(t, m)
	list := got.Close.Result.List
	if len(list) != 3 {
		t.Fatalf("list len = %d", len(list))
	}
	if list[0].Schema != "point" || len(list[0].Tuple) != 2 {
		t.Fatalf("tuple mismatch: %+v", list[0])
	}
	if len(list[1].Map) != 1 || list[1].Map[0].Key.Str != "k" {
		t.Fatalf("map mismatch: %+v", list[1])
	}
	if list[2].Kind != KindNull {
		t.Fatalf("expected null, got %+v", list[2])
	}
}

func TestDecodeBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00, 0x00, 0x01, 0x01})
	_, err := Decode(buf)
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestDecodeShortRead(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, NewControlClose()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:3])
	_, err := Decode(truncated)
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("err = %v, want ErrShortRead", err)
	}
}

func TestDecodeDuplicateMapKeyRejected(t *testing.T) {
	var buf bytes.Buffer
	m := NewCloseSuccess(1, Map([]MapEntry{
		{Key: Str("a"), Val: I32(1)},
		{Key: Str("a"), Val: I32(2)},
	}))
	if err := Encode(&buf, m); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err := Decode(&buf)
	if err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
