package resolver

import (
	"context"
	"testing"

	"USync/module/update/codec"
	"USync/module/update/model"
	"USync/module/update/seqlog"
)

type fixture struct {
	log *seqlog.Log
	res *Resolver
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db := seqlog.NewMemDB()
	cdc, err := codec.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		log: seqlog.New(db, seqlog.NewMemAllocator(db), cdc, nil),
		res: New(db, cdc, cfg),
	}
}

func (f *fixture) appendN(t *testing.T, b model.Bucket, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.log.Append(context.Background(), b, model.UnreadMarkUpdate(&model.StoredUnreadMark{
			Peer: model.ThreadPeer(b.ID), Unread: true,
		}))
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestGetUpdatesSlice(t *testing.T) {
	f := newFixture(t, Config{})
	b := model.ChatBucket(1)
	f.appendN(t, b, 5)

	r, err := f.res.GetUpdates(context.Background(), b, 0, 0, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if r.Type != ResultSlice || !r.Final {
		t.Fatalf("type=%v final=%v", r.Type, r.Final)
	}
	if len(r.Updates) != 5 || r.Seq != 5 {
		t.Fatalf("updates=%d seq=%d", len(r.Updates), r.Seq)
	}
	for i, u := range r.Updates {
		if u.Seq != int64(i+1) {
			t.Fatalf("seq order broken at %d: %d", i, u.Seq)
		}
	}
}

func TestGetUpdatesSeqEndSlicing(t *testing.T) {
	f := newFixture(t, Config{})
	b := model.ChatBucket(2)
	f.appendN(t, b, 5)

	r, err := f.res.GetUpdates(context.Background(), b, 0, 0, 3, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Updates) != 3 || !r.Final || r.Seq != 3 {
		t.Fatalf("updates=%d final=%v seq=%d, want 3/true/3", len(r.Updates), r.Final, r.Seq)
	}
}

func TestGetUpdatesPagination(t *testing.T) {
	f := newFixture(t, Config{HardLimit: 2})
	b := model.ChatBucket(3)
	f.appendN(t, b, 5)

	var got []int64
	start := int64(0)
	for i := 0; i < 10; i++ {
		r, err := f.res.GetUpdates(context.Background(), b, 0, start, 0, 2)
		if err != nil {
			t.Fatal(err)
		}
		for _, u := range r.Updates {
			got = append(got, u.Seq)
		}
		if r.Seq <= start && !r.Final {
			t.Fatalf("cursor did not advance: %d -> %d", start, r.Seq)
		}
		start = r.Seq
		if r.Final {
			break
		}
	}
	if len(got) != 5 {
		t.Fatalf("paged %d updates, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] != got[i-1]+1 {
			t.Fatalf("client-visible seq not gap-free: %v", got)
		}
	}
}

func TestGetUpdatesEmpty(t *testing.T) {
	f := newFixture(t, Config{})
	b := model.ChatBucket(4)
	f.appendN(t, b, 2)

	r, err := f.res.GetUpdates(context.Background(), b, 0, 2, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if r.Type != ResultEmpty || !r.Final || r.Seq != 2 {
		t.Fatalf("type=%v final=%v seq=%d", r.Type, r.Final, r.Seq)
	}
}

func TestGetUpdatesTooLong(t *testing.T) {
	f := newFixture(t, Config{GapThreshold: 10})
	b := model.UserBucket(5)
	f.appendN(t, b, 15)

	r, err := f.res.GetUpdates(context.Background(), b, 5, 0, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if r.Type != ResultTooLong {
		t.Fatalf("type = %v, want TOO_LONG", r.Type)
	}
	if r.Seq != 15 || len(r.Updates) != 0 {
		t.Fatalf("seq=%d updates=%d, want 15/0", r.Seq, len(r.Updates))
	}
}

func TestGetUpdatesPrunedHistoryTooLong(t *testing.T) {
	db := seqlog.NewMemDB()
	cdc, _ := codec.New(nil)
	log := seqlog.New(db, seqlog.NewMemAllocator(db), cdc, nil)
	res := New(db, cdc, Config{GapThreshold: 1000})
	b := model.ChatBucket(6)
	for i := 0; i < 5; i++ {
		if _, err := log.Append(context.Background(), b, model.UnreadMarkUpdate(&model.StoredUnreadMark{Peer: model.ThreadPeer(6)})); err != nil {
			t.Fatal(err)
		}
	}
	db.SetMinSeq(b.Key(), 3)

	r, err := res.GetUpdates(context.Background(), b, 0, 1, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if r.Type != ResultTooLong || r.Seq != 5 {
		t.Fatalf("pruned start must force resync: type=%v seq=%d", r.Type, r.Seq)
	}
}

func TestGetUpdatesHardLimitClamp(t *testing.T) {
	f := newFixture(t, Config{HardLimit: 3})
	b := model.ChatBucket(7)
	f.appendN(t, b, 5)

	r, err := f.res.GetUpdates(context.Background(), b, 0, 0, 0, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Updates) != 3 || r.Final {
		t.Fatalf("clamp failed: updates=%d final=%v", len(r.Updates), r.Final)
	}
}

func TestGetUpdatesSkipsUnknownButAdvancesCursor(t *testing.T) {
	db := seqlog.NewMemDB()
	cdc, _ := codec.New(nil)
	log := seqlog.New(db, seqlog.NewMemAllocator(db), cdc, nil)
	res := New(db, cdc, Config{})
	ctx := context.Background()
	b := model.UserBucket(8)

	if _, err := log.Append(ctx, b, model.UserStatusUpdate(&model.StoredUserStatus{UserID: 8, Online: true})); err != nil {
		t.Fatal(err)
	}
	// 未来版本的 kind：可解出信封但无法展开
	if _, err := log.Append(ctx, b, &model.Stored{V: 9, Kind: "holographicCall"}); err != nil {
		t.Fatal(err)
	}
	if _, err := log.Append(ctx, b, model.UserStatusUpdate(&model.StoredUserStatus{UserID: 8, Online: false})); err != nil {
		t.Fatal(err)
	}

	r, err := res.GetUpdates(ctx, b, 8, 0, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(r.Updates))
	}
	if r.Seq != 3 || !r.Final {
		t.Fatalf("cursor must cover skipped seq: seq=%d final=%v", r.Seq, r.Final)
	}

	// 只剩不可展开的那段：EMPTY 但游标仍推进
	r2, err := res.GetUpdates(ctx, b, 8, 1, 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Type != ResultEmpty || r2.Seq != 2 {
		t.Fatalf("type=%v seq=%d, want EMPTY/2", r2.Type, r2.Seq)
	}
}
