package applier

import (
	"testing"

	"USync/module/client/store"
	"USync/module/update/inflate"
	"USync/module/update/model"
)

func newTestApplier(t *testing.T) (*Applier, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, 1), st
}

func newMsg(seq, chatID, msgID, fromID int64, out bool) *inflate.Update {
	return &inflate.Update{
		Seq: seq, Date: seq, Kind: inflate.WireNewMessage,
		NewMessage: &inflate.WireMessage{
			ChatID: chatID, MessageID: msgID, FromID: fromID,
			Peer: model.ThreadPeer(chatID), Date: seq, Text: "m", Out: out,
		},
	}
}

func TestApplyBatchIsIdempotent(t *testing.T) {
	a, st := newTestApplier(t)
	b := &Batch{BucketKey: "u:1", Seq: 2, Updates: []*inflate.Update{
		newMsg(1, 10, 1, 2, false),
		newMsg(2, 10, 2, 2, false),
	}}
	if err := a.ApplyBatch(b); err != nil {
		t.Fatal(err)
	}
	if err := a.ApplyBatch(b); err != nil {
		t.Fatal(err)
	}

	d, err := st.GetDialog(10)
	if err != nil {
		t.Fatal(err)
	}
	if d.Unread != 2 {
		t.Fatalf("unread = %d after replay, want 2", d.Unread)
	}
	c, _ := st.GetChat(10)
	if c.LastMessageID != 2 {
		t.Fatalf("lastMessageId = %d, want 2", c.LastMessageID)
	}
	if seq, _ := st.CursorSeq("u:1"); seq != 2 {
		t.Fatalf("cursor = %d, want 2", seq)
	}
}

func TestOwnMessagesDontCountUnread(t *testing.T) {
	a, st := newTestApplier(t)
	b := &Batch{BucketKey: "u:1", Seq: 2, Updates: []*inflate.Update{
		newMsg(1, 10, 1, 1, true),  // 自己发的
		newMsg(2, 10, 2, 2, false), // 别人发的
	}}
	if err := a.ApplyBatch(b); err != nil {
		t.Fatal(err)
	}
	d, _ := st.GetDialog(10)
	if d.Unread != 1 {
		t.Fatalf("unread = %d, want 1", d.Unread)
	}
}

func TestReadMaxNeverRegresses(t *testing.T) {
	a, st := newTestApplier(t)
	readMax := func(seq, maxID int64, unread int32) *inflate.Update {
		return &inflate.Update{Seq: seq, Kind: inflate.WireReadMaxChanged,
			ReadMaxChanged: &inflate.WireReadMax{
				Peer: model.ThreadPeer(10), ChatID: 10, MaxID: maxID, Unread: unread,
			}}
	}
	if err := a.ApplyBatch(&Batch{BucketKey: "u:1", Seq: 1,
		Updates: []*inflate.Update{readMax(1, 5, 0)}}); err != nil {
		t.Fatal(err)
	}
	// 晚到的旧位点
	if err := a.ApplyBatch(&Batch{BucketKey: "u:1", Seq: 2,
		Updates: []*inflate.Update{readMax(2, 3, 7)}}); err != nil {
		t.Fatal(err)
	}
	d, _ := st.GetDialog(10)
	if d.ReadInboxMaxID != 5 {
		t.Fatalf("readInboxMaxId regressed to %d", d.ReadInboxMaxID)
	}
	if d.Unread != 0 {
		t.Fatalf("stale unread applied: %d", d.Unread)
	}
}

func TestReassignSwapsPlaceholderID(t *testing.T) {
	a, st := newTestApplier(t)

	// 乐观消息：负号占位
	if err := st.DB().Create(&store.Message{
		ChatID: 10, MessageID: -3, FromID: 1, RandomID: 777,
		Text: "hi", Date: 1, Out: true, Status: store.StatusSending,
	}).Error; err != nil {
		t.Fatal(err)
	}

	b := &Batch{BucketKey: "u:1", Seq: 1, Updates: []*inflate.Update{{
		Seq: 1, Kind: inflate.WireMsgIDReassigned,
		MsgIDReassigned: &inflate.WireIDReassign{ChatID: 10, RandomID: 777, MessageID: 42},
	}}}
	if err := a.ApplyBatch(b); err != nil {
		t.Fatal(err)
	}

	if m, _ := st.GetMessage(10, -3); m != nil {
		t.Fatal("placeholder row survived reassign")
	}
	m, err := st.GetMessage(10, 42)
	if err != nil || m == nil {
		t.Fatalf("reassigned row missing: %v", err)
	}
	if m.Status != store.StatusSent || m.Text != "hi" {
		t.Fatalf("row after reassign: %+v", m)
	}

	// 重放同一条 reassign 不报错也不变
	if err := a.ApplyBatch(b); err != nil {
		t.Fatal(err)
	}
}

func TestReassignWithoutLocalMessageIsNoop(t *testing.T) {
	a, st := newTestApplier(t)
	b := &Batch{BucketKey: "u:1", Seq: 1, Updates: []*inflate.Update{{
		Seq: 1, Kind: inflate.WireMsgIDReassigned,
		MsgIDReassigned: &inflate.WireIDReassign{ChatID: 10, RandomID: 999, MessageID: 5},
	}}}
	if err := a.ApplyBatch(b); err != nil {
		t.Fatal(err)
	}
	if m, _ := st.GetMessage(10, 5); m != nil {
		t.Fatal("reassign fabricated a message")
	}
	if seq, _ := st.CursorSeq("u:1"); seq != 1 {
		t.Fatal("cursor must advance even on no-op")
	}
}

func TestDeleteLastMessagePromotesPrevious(t *testing.T) {
	a, st := newTestApplier(t)
	if err := a.ApplyBatch(&Batch{BucketKey: "c:10", Seq: 3, Updates: []*inflate.Update{
		newMsg(1, 10, 1, 2, false),
		newMsg(2, 10, 2, 2, false),
		newMsg(3, 10, 3, 2, false),
	}}); err != nil {
		t.Fatal(err)
	}

	if err := a.ApplyBatch(&Batch{BucketKey: "c:10", Seq: 4, Updates: []*inflate.Update{{
		Seq: 4, Kind: inflate.WireMessageDeleted,
		MessageDeleted: &inflate.WireDeleted{ChatID: 10, MessageIDs: []int64{3}},
	}}}); err != nil {
		t.Fatal(err)
	}

	c, _ := st.GetChat(10)
	if c.LastMessageID != 2 {
		t.Fatalf("lastMessageId = %d after head delete, want 2", c.LastMessageID)
	}
	if m, _ := st.GetMessage(10, 3); m != nil {
		t.Fatal("deleted message survived")
	}
}

func TestDialogSettingsResolveDmChatID(t *testing.T) {
	a, st := newTestApplier(t)

	// 直聊：chatId 是服务端发号（100），peer 是对端用户（user:2）
	if err := a.ApplyBatch(&Batch{BucketKey: "u:1", Seq: 1, Updates: []*inflate.Update{{
		Seq: 1, Date: 1, Kind: inflate.WireNewMessage,
		NewMessage: &inflate.WireMessage{
			ChatID: 100, MessageID: 1, FromID: 2,
			Peer: model.UserPeer(2), Date: 1, Text: "m",
		},
	}}}); err != nil {
		t.Fatal(err)
	}

	if err := a.ApplyBatch(&Batch{BucketKey: "u:1", Seq: 3, Updates: []*inflate.Update{
		{Seq: 2, Kind: inflate.WireUnreadMark,
			UnreadMark: &inflate.WireUnread{Peer: model.UserPeer(2), Unread: true}},
		{Seq: 3, Kind: inflate.WireNotifySettings,
			NotifySettings: &inflate.WireNotify{Peer: model.UserPeer(2), Silent: true, MutedTil: 99}},
	}}); err != nil {
		t.Fatal(err)
	}

	d, err := st.GetDialog(100)
	if err != nil || d == nil {
		t.Fatalf("dm dialog missing: %v", err)
	}
	if !d.UnreadMark || !d.Silent || d.MutedTil != 99 {
		t.Fatalf("settings landed elsewhere: %+v", d)
	}
	if stray, _ := st.GetDialog(2); stray != nil {
		t.Fatalf("dialog keyed by peer user id: %+v", stray)
	}
}

func TestDialogSettingsWithoutDmChatAreNoop(t *testing.T) {
	a, st := newTestApplier(t)
	// 本地还没有这条直聊的会话：无从定位 chatId，跳过但游标推进
	if err := a.ApplyBatch(&Batch{BucketKey: "u:1", Seq: 5, Updates: []*inflate.Update{
		{Seq: 5, Kind: inflate.WireUnreadMark,
			UnreadMark: &inflate.WireUnread{Peer: model.UserPeer(9), Unread: true}},
	}}); err != nil {
		t.Fatal(err)
	}
	if stray, _ := st.GetDialog(9); stray != nil {
		t.Fatal("no-op path created a dialog")
	}
	if seq, _ := st.CursorSeq("u:1"); seq != 5 {
		t.Fatalf("cursor = %d, want 5", seq)
	}
}

func TestUnknownKindSkippedCursorAdvances(t *testing.T) {
	a, st := newTestApplier(t)
	b := &Batch{BucketKey: "u:1", Seq: 9, Updates: []*inflate.Update{
		{Seq: 9, Kind: "updateHolographicCall"},
	}}
	if err := a.ApplyBatch(b); err != nil {
		t.Fatal(err)
	}
	if seq, _ := st.CursorSeq("u:1"); seq != 9 {
		t.Fatalf("cursor = %d, want 9", seq)
	}
}

func TestCommitListenerFiresAfterPersist(t *testing.T) {
	a, st := newTestApplier(t)
	var got []*Batch
	a.OnCommit(func(b *Batch) {
		// 回调时数据必须已可读
		if m, _ := st.GetMessage(10, 1); m == nil {
			t.Error("listener ran before commit")
		}
		got = append(got, b)
	})
	if err := a.ApplyBatch(&Batch{BucketKey: "u:1", Seq: 1,
		Updates: []*inflate.Update{newMsg(1, 10, 1, 2, false)}}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Seq != 1 {
		t.Fatalf("listener saw %v", got)
	}
}
