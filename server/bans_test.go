package server

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBanList(t *testing.T) {
	b, err := NewBanList(RedisConfig{})
	if err != nil {
		t.Fatalf("NewBanList without redis: %v", err)
	}
	defer b.Close()
	ctx := context.Background()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.Add(BanRecord{Addr: "1.2.3.4", ConnID: "c1", Reason: "speed", Action: "disconnect", At: at})
	b.Add(BanRecord{Addr: "5.6.7.8", ConnID: "c2", Reason: "damage", Action: "disconnect", At: at.Add(time.Minute)})
	b.Add(BanRecord{Addr: "9.9.9.9", ConnID: "c3", Reason: "spam", Action: "flag", At: at})

	if !b.IsBanned(ctx, "1.2.3.4") {
		t.Error("1.2.3.4 should be banned")
	}
	if b.IsBanned(ctx, "9.9.9.9") {
		t.Error("flagged address must not be banned")
	}
	if got := b.List(); len(got) != 2 || got[0].Addr != "1.2.3.4" {
		t.Errorf("List = %+v", got)
	}
	if got := b.Flagged(); len(got) != 1 || got[0].Reason != "spam" {
		t.Errorf("Flagged = %+v", got)
	}

	lifted, err := b.Lift(ctx, "1.2.3.4")
	if err != nil || !lifted {
		t.Fatalf("Lift = (%v, %v)", lifted, err)
	}
	if b.IsBanned(ctx, "1.2.3.4") {
		t.Error("address still banned after lift")
	}
	if lifted, _ := b.Lift(ctx, "1.2.3.4"); lifted {
		t.Error("second lift should report nothing lifted")
	}
}

func TestBanListIgnoresEmptyAddr(t *testing.T) {
	b := NewMemoryBanList()
	b.Add(BanRecord{ConnID: "c1", Reason: "speed", Action: "disconnect"})
	if len(b.List()) != 0 {
		t.Error("record without an address should not be stored")
	}
	if b.IsBanned(context.Background(), "") {
		t.Error("empty address must never be banned")
	}
}

func TestFlaggedIsBounded(t *testing.T) {
	b := NewMemoryBanList()
	for i := 0; i < flaggedKeep+50; i++ {
		b.Add(BanRecord{Addr: "1.1.1.1", Action: "flag"})
	}
	if n := len(b.Flagged()); n != flaggedKeep {
		t.Errorf("flagged kept = %d, want %d", n, flaggedKeep)
	}
}

func TestNewBanListUnreachableRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}
	// 端口 1 上不会有 Redis
	if _, err := NewBanList(RedisConfig{Addr: "127.0.0.1:1", BanKey: "k"}); err == nil {
		t.Fatal("expected a connection error")
	}
}
