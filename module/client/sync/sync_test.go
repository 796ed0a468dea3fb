package sync

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"USync/module/client/applier"
	"USync/module/client/store"
	"USync/module/update/inflate"
	"USync/module/update/model"
	"USync/module/update/resolver"
)

// fakeServer 内存里的服务端日志
type fakeServer struct {
	updates  []*inflate.Update // seq 从 1 连续
	failures int               // 先失败 N 次
	tooLong  bool
	calls    int
}

func (f *fakeServer) GetUpdates(_ context.Context, _ string, startSeq, _ int64, limit int) (*resolver.Result, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("transport error")
	}
	if f.tooLong {
		return &resolver.Result{Type: resolver.ResultTooLong, Seq: int64(len(f.updates)), Final: true}, nil
	}
	var out []*inflate.Update
	cursor := startSeq
	for _, u := range f.updates {
		if u.Seq <= startSeq {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, u)
		cursor = u.Seq
	}
	if len(out) == 0 {
		return &resolver.Result{Type: resolver.ResultEmpty, Seq: startSeq, Final: true}, nil
	}
	final := cursor >= int64(len(f.updates))
	return &resolver.Result{Type: resolver.ResultSlice, Updates: out, Seq: cursor, Final: final}, nil
}

func serverWithMessages(n int) *fakeServer {
	f := &fakeServer{}
	for i := 1; i <= n; i++ {
		f.updates = append(f.updates, &inflate.Update{
			Seq: int64(i), Date: int64(i), Kind: inflate.WireNewMessage,
			NewMessage: &inflate.WireMessage{
				ChatID: 10, MessageID: int64(i), FromID: 2,
				Peer: model.ThreadPeer(10), Date: int64(i), Text: "m",
			},
		})
	}
	return f
}

func newFixture(t *testing.T, srv *fakeServer, resync ResyncFunc) (*Syncer, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ap := applier.New(st, 1)
	return New(st, ap, srv, resync, Config{PageLimit: 2}), st
}

func TestSyncOncePagesToFinal(t *testing.T) {
	srv := serverWithMessages(5)
	s, st := newFixture(t, srv, nil)

	if err := s.SyncOnce(context.Background(), "u:1"); err != nil {
		t.Fatal(err)
	}
	if seq, _ := st.CursorSeq("u:1"); seq != 5 {
		t.Fatalf("cursor = %d, want 5", seq)
	}
	var count int64
	_ = st.DB().Model(&store.Message{}).Count(&count).Error
	if count != 5 {
		t.Fatalf("messages = %d, want 5", count)
	}
	// 追平后再跑一轮无副作用
	if err := s.SyncOnce(context.Background(), "u:1"); err != nil {
		t.Fatal(err)
	}
	if seq, _ := st.CursorSeq("u:1"); seq != 5 {
		t.Fatal("cursor moved without new updates")
	}
}

func TestSyncOnceResumesFromPersistedCursor(t *testing.T) {
	srv := serverWithMessages(3)
	s, st := newFixture(t, srv, nil)
	if err := s.SyncOnce(context.Background(), "u:1"); err != nil {
		t.Fatal(err)
	}

	// 服务端又来两条；新 Syncer 模拟重启，必须从 3 续传
	srv.updates = serverWithMessages(5).updates
	s2 := New(st, applier.New(st, 1), srv, nil, Config{PageLimit: 10})
	if err := s2.SyncOnce(context.Background(), "u:1"); err != nil {
		t.Fatal(err)
	}
	if seq, _ := st.CursorSeq("u:1"); seq != 5 {
		t.Fatalf("cursor = %d, want 5", seq)
	}
	var count int64
	_ = st.DB().Model(&store.Message{}).Count(&count).Error
	if count != 5 {
		t.Fatalf("messages = %d after resume, want 5 (no dups)", count)
	}
}

func TestSyncTooLongTriggersResync(t *testing.T) {
	srv := serverWithMessages(100)
	srv.tooLong = true
	var resynced []int64
	s, st := newFixture(t, srv, func(_ context.Context, bucketKey string, serverSeq int64) error {
		if bucketKey != "u:1" {
			t.Errorf("bucket = %s", bucketKey)
		}
		resynced = append(resynced, serverSeq)
		return nil
	})

	if err := s.SyncOnce(context.Background(), "u:1"); err != nil {
		t.Fatal(err)
	}
	if len(resynced) != 1 || resynced[0] != 100 {
		t.Fatalf("resync calls: %v", resynced)
	}
	// 游标直接锚到服务端水位
	if seq, _ := st.CursorSeq("u:1"); seq != 100 {
		t.Fatalf("cursor = %d, want 100", seq)
	}
}

func TestRunBackoffDoublesAndResets(t *testing.T) {
	srv := serverWithMessages(1)
	srv.failures = 3
	s, _ := newFixture(t, srv, nil)
	s.cfg.BaseDelay = time.Second
	s.cfg.MaxDelay = 3 * time.Second

	var delays []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) >= 4 {
			cancel() // 成功一次后的静默期，收工
			return ctx.Err()
		}
		return nil
	}

	s.Run(ctx, "u:1", 30*time.Second)

	// 1s, 2s, 3s(封顶), 然后成功 → 30s 静默
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 30 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %s, want %s (all=%v)", i, delays[i], want[i], delays)
		}
	}
}
