package codec

import (
	"bytes"
	"testing"

	"USync/module/update/model"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c, err := New(testKey())
	if err != nil {
		t.Fatal(err)
	}
	in := model.NewMessageUpdate(&model.StoredNewMessage{
		ChatID: 7, MessageID: 42, FromID: 3,
		Peer: model.ThreadPeer(7), Date: 1735689600, Text: "hello",
	})
	raw, err := c.Encode("c:7", in)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("hello")) {
		t.Fatal("payload not encrypted")
	}
	out, err := c.Decode("c:7", raw)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != model.KindNewMessage || out.NewMessage == nil {
		t.Fatalf("kind = %q", out.Kind)
	}
	if out.NewMessage.MessageID != 42 || out.NewMessage.Text != "hello" {
		t.Fatalf("round trip mismatch: %+v", out.NewMessage)
	}
}

func TestDecodeWrongBucketFails(t *testing.T) {
	c, _ := New(testKey())
	raw, err := c.Encode("u:1", model.UnreadMarkUpdate(&model.StoredUnreadMark{
		Peer: model.UserPeer(2), Unread: true,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decode("u:2", raw); err == nil {
		t.Fatal("expected AAD mismatch error")
	}
}

func TestUnknownKindTolerated(t *testing.T) {
	c, _ := New(nil) // 明文模式走同一路径
	raw := []byte(`{"v":9,"kind":"holographicCall","holographicCall":{"x":1}}`)
	s, err := c.Decode("u:1", raw)
	if err != nil {
		t.Fatal(err)
	}
	if s.Known() {
		t.Fatal("future kind must report unknown")
	}
}
