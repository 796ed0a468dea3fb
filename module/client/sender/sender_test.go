package sender

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"USync/module/client/applier"
	"USync/module/client/store"
	"USync/module/send"
	"USync/module/update/model"
)

// fakeRPC 模拟服务端：同 randomId 重复提交返回同一个号
type fakeRPC struct {
	nextID int64
	byRand map[int64]*send.Ack
	fail   bool
	calls  int
}

func (f *fakeRPC) SendMessage(_ context.Context, randomID int64, _ model.Peer, _ string) (*send.Ack, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("network down")
	}
	if ack, ok := f.byRand[randomID]; ok {
		dup := *ack
		dup.Duplicate = true
		return &dup, nil
	}
	f.nextID++
	ack := &send.Ack{ChatID: 10, MessageID: f.nextID, RandomID: randomID, Date: 1}
	f.byRand[randomID] = ack
	return ack, nil
}

func newFixture(t *testing.T) (*Sender, *store.Store, *fakeRPC) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ap := applier.New(st, 1)
	rpc := &fakeRPC{byRand: make(map[int64]*send.Ack)}
	return New(st, ap, rpc, 1), st, rpc
}

func TestSendSwapsPlaceholderOnAck(t *testing.T) {
	s, st, _ := newFixture(t)
	p, err := s.Send(context.Background(), 10, model.ThreadPeer(10), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if p.LocalID >= 0 {
		t.Fatalf("placeholder id must be negative: %d", p.LocalID)
	}
	if m, _ := st.GetMessage(10, p.LocalID); m != nil {
		t.Fatal("placeholder survived ack")
	}
	m, _ := st.GetMessage(10, 1)
	if m == nil || m.Status != store.StatusSent || !m.Out {
		t.Fatalf("server-id row: %+v", m)
	}
}

func TestRetryReusesRandomID(t *testing.T) {
	s, st, rpc := newFixture(t)
	rpc.fail = true
	p, err := s.Send(context.Background(), 10, model.ThreadPeer(10), "x")
	if err == nil {
		t.Fatal("expected network error")
	}
	// 占位还在，sending 态
	if m, _ := st.GetMessage(10, p.LocalID); m == nil || m.Status != store.StatusSending {
		t.Fatalf("placeholder: %+v", m)
	}

	rpc.fail = false
	if err := s.Retry(context.Background(), p, model.ThreadPeer(10), "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Retry(context.Background(), p, model.ThreadPeer(10), "x"); err != nil {
		t.Fatal(err)
	}
	// 两次重试拿到的是同一个服务端号，本地只有一条
	var count int64
	if err := st.DB().Model(&store.Message{}).Where("chat_id = ?", 10).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("messages = %d, want 1", count)
	}
}

func TestMarkFailed(t *testing.T) {
	s, st, rpc := newFixture(t)
	rpc.fail = true
	p, _ := s.Send(context.Background(), 10, model.ThreadPeer(10), "x")
	if err := s.MarkFailed(p); err != nil {
		t.Fatal(err)
	}
	m, _ := st.GetMessage(10, p.LocalID)
	if m == nil || m.Status != store.StatusFailed {
		t.Fatalf("status: %+v", m)
	}
}
