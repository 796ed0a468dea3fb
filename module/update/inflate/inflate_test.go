package inflate

import (
	"errors"
	"testing"

	"USync/module/update/model"
)

func TestInflateNewMessageOutFlag(t *testing.T) {
	s := model.NewMessageUpdate(&model.StoredNewMessage{
		ChatID: 5, MessageID: 10, FromID: 3, Peer: model.UserPeer(9), Date: 100,
	})
	u, err := Inflate(1, 100, s, 3)
	if err != nil {
		t.Fatal(err)
	}
	if u.Kind != WireNewMessage || u.NewMessage == nil {
		t.Fatalf("kind = %q", u.Kind)
	}
	if !u.NewMessage.Out {
		t.Fatal("sender's own bucket must see out=true")
	}
	u2, _ := Inflate(1, 100, s, 9)
	if u2.NewMessage.Out {
		t.Fatal("recipient must see out=false")
	}
}

func TestInflateUnknownKind(t *testing.T) {
	s := &model.Stored{V: 9, Kind: "holographicCall"}
	if _, err := Inflate(3, 0, s, 1); !errors.Is(err, ErrUnhandled) {
		t.Fatalf("err = %v, want ErrUnhandled", err)
	}
}

func TestInflateReadMax(t *testing.T) {
	s := model.ReadMaxChangedUpdate(&model.StoredReadMaxChanged{
		Peer: model.ThreadPeer(4), ChatID: 4, MaxID: 17, Unread: 2,
	})
	u, err := Inflate(8, 50, s, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.Seq != 8 || u.ReadMaxChanged.MaxID != 17 || u.ReadMaxChanged.Unread != 2 {
		t.Fatalf("bad inflation: %+v", u.ReadMaxChanged)
	}
}

func TestInflateDeleteAndReaction(t *testing.T) {
	del, err := Inflate(2, 10, model.MessageDeletedUpdate(&model.StoredMessageDeleted{
		ChatID: 6, MessageIDs: []int64{3, 4},
	}), 1)
	if err != nil {
		t.Fatal(err)
	}
	if del.Kind != WireMessageDeleted || len(del.MessageDeleted.MessageIDs) != 2 {
		t.Fatalf("bad deletion: %+v", del)
	}

	re, err := Inflate(3, 11, model.ReactionChangedUpdate(&model.StoredReactionChanged{
		ChatID: 6, MessageID: 3, UserID: 2, Emoji: "👍",
	}), 1)
	if err != nil {
		t.Fatal(err)
	}
	if re.Kind != WireReactionChanged || re.ReactionChanged.Emoji != "👍" {
		t.Fatalf("bad reaction: %+v", re)
	}
}

func TestInflateVariantPointerMissing(t *testing.T) {
	// kind 可识别但变体指针缺失（损坏记录）也按 unhandled 处理
	s := &model.Stored{V: 1, Kind: model.KindNewMessage}
	if _, err := Inflate(1, 0, s, 1); !errors.Is(err, ErrUnhandled) {
		t.Fatalf("err = %v, want ErrUnhandled", err)
	}
}
