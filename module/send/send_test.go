package send

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"USync/module/update/codec"
	"USync/module/update/model"
	"USync/module/update/resolver"
	"USync/module/update/route"
	"USync/module/update/seqlog"
)

type fixture struct {
	sender *Sender
	res    *resolver.Resolver
	store  Store
}

// 会话 100：成员 1、2；peer 为线程 100
func newFixture(t *testing.T, index RandomIDIndex) *fixture {
	t.Helper()
	db := seqlog.NewMemDB()
	cdc, err := codec.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	log := seqlog.New(db, seqlog.NewMemAllocator(db), cdc, nil)
	store := NewMemStore()
	router := route.NewRouter(route.StaticMembers{100: {1, 2}})
	chats := StaticChats{model.ThreadPeer(100): 100}
	return &fixture{
		sender: NewSender(store, index, chats, router, log),
		res:    resolver.New(db, cdc, resolver.Config{}),
		store:  store,
	}
}

func (f *fixture) pull(t *testing.T, b model.Bucket, forUser int64) *resolver.Result {
	t.Helper()
	r, err := f.res.GetUpdates(context.Background(), b, forUser, 0, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSubmitMessageFanout(t *testing.T) {
	f := newFixture(t, NewMemIndex())
	ctx := context.Background()

	ack, err := f.sender.SubmitMessage(ctx, 1, 777, model.ThreadPeer(100), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if ack.Duplicate || ack.MessageID == 0 || ack.ChatID != 100 {
		t.Fatalf("bad ack: %+v", ack)
	}

	// 收件人的用户桶：一条 newMessage
	r := f.pull(t, model.UserBucket(2), 2)
	if len(r.Updates) != 1 || r.Updates[0].NewMessage == nil {
		t.Fatalf("recipient bucket: %+v", r.Updates)
	}
	if r.Updates[0].NewMessage.MessageID != ack.MessageID {
		t.Fatalf("messageId mismatch")
	}
	if r.Updates[0].NewMessage.Out {
		t.Fatalf("recipient view must not be outgoing")
	}

	// 会话桶：一条 newMessage
	if r := f.pull(t, model.ChatBucket(100), 0); len(r.Updates) != 1 {
		t.Fatalf("chat bucket: %+v", r.Updates)
	}

	// 发件人桶：只有 msgIdReassigned，没有 newMessage
	r = f.pull(t, model.UserBucket(1), 1)
	if len(r.Updates) != 1 || r.Updates[0].MsgIDReassigned == nil {
		t.Fatalf("sender bucket: %+v", r.Updates)
	}
	if r.Updates[0].MsgIDReassigned.RandomID != 777 {
		t.Fatalf("randomId not echoed")
	}
}

func TestSubmitMessageDuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t, NewMemIndex())
	ctx := context.Background()

	first, err := f.sender.SubmitMessage(ctx, 1, 42, model.ThreadPeer(100), "hi")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.sender.SubmitMessage(ctx, 1, 42, model.ThreadPeer(100), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate || second.MessageID != first.MessageID {
		t.Fatalf("retry must return first id: first=%+v second=%+v", first, second)
	}

	// 重试不追加任何记录
	if r := f.pull(t, model.UserBucket(2), 2); len(r.Updates) != 1 {
		t.Fatalf("duplicate produced extra fanout: %d", len(r.Updates))
	}
	if r := f.pull(t, model.UserBucket(1), 1); len(r.Updates) != 1 {
		t.Fatalf("duplicate produced extra reassign: %d", len(r.Updates))
	}
}

type brokenIndex struct{}

func (brokenIndex) Ensure(context.Context, int64, int64, int64) (int64, bool, error) {
	return 0, false, errors.New("redis down")
}
func (brokenIndex) Del(context.Context, int64, int64) error { return errors.New("redis down") }

func TestSubmitMessageIdempotentWithoutIndex(t *testing.T) {
	f := newFixture(t, brokenIndex{})
	ctx := context.Background()

	first, err := f.sender.SubmitMessage(ctx, 1, 7, model.ThreadPeer(100), "x")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.sender.SubmitMessage(ctx, 1, 7, model.ThreadPeer(100), "x")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate || second.MessageID != first.MessageID {
		t.Fatalf("db unique constraint must carry idempotency: %+v / %+v", first, second)
	}
}

func TestSubmitMessageValidation(t *testing.T) {
	f := newFixture(t, NewMemIndex())
	ctx := context.Background()

	if _, err := f.sender.SubmitMessage(ctx, 1, 0, model.ThreadPeer(100), "x"); err == nil {
		t.Fatal("zero randomId accepted")
	}
	if _, err := f.sender.SubmitMessage(ctx, 1, 5, model.Peer{}, "x"); err == nil {
		t.Fatal("invalid peer accepted")
	}
	if _, err := f.sender.SubmitMessage(ctx, 1, 5, model.ThreadPeer(100), ""); err == nil {
		t.Fatal("empty text accepted")
	}
}

func TestSubmitMessageDistinctRandomIDs(t *testing.T) {
	f := newFixture(t, NewMemIndex())
	ctx := context.Background()

	a, _ := f.sender.SubmitMessage(ctx, 1, 11, model.ThreadPeer(100), "a")
	b, _ := f.sender.SubmitMessage(ctx, 1, 12, model.ThreadPeer(100), "b")
	if a.MessageID == b.MessageID {
		t.Fatalf("distinct randomIds must allocate distinct messageIds")
	}
	if b.MessageID != a.MessageID+1 {
		t.Fatalf("chat-local ids not sequential: %d then %d", a.MessageID, b.MessageID)
	}
}
