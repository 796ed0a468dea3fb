package route

import (
	"context"
	"testing"

	"USync/module/update/model"
)

func TestChatAddresseeExpandsToMembers(t *testing.T) {
	r := NewRouter(StaticMembers{100: {1, 2, 3}})
	buckets, err := r.Buckets(context.Background(), ToChat(100).Excluding(2))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"c:100": true, "u:1": true, "u:3": true}
	if len(buckets) != len(want) {
		t.Fatalf("buckets = %v", buckets)
	}
	for _, b := range buckets {
		if !want[b.Key()] {
			t.Fatalf("unexpected bucket %s (excluded member leaked?)", b.Key())
		}
	}
}

func TestUserAndSpaceAddressees(t *testing.T) {
	r := NewRouter(StaticMembers{})
	bs, _ := r.Buckets(context.Background(), ToUser(7))
	if len(bs) != 1 || bs[0] != model.UserBucket(7) {
		t.Fatalf("user addressee: %v", bs)
	}
	bs, _ = r.Buckets(context.Background(), ToSpace(9))
	if len(bs) != 1 || bs[0] != model.SpaceBucket(9) {
		t.Fatalf("space addressee: %v", bs)
	}
}
