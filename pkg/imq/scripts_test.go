package imq

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestScriptRegistryEvalMovesDueEntries(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cli.Close()
	reg := newScriptRegistry(cli)
	ctx := context.Background()

	zkey, lkey := "imq:orders:delayed", "imq:orders"
	now := nowMs()

	if err := cli.ZAdd(ctx, zkey, redis.Z{Score: float64(now - 1000), Member: "past-due"}).Err(); err != nil {
		t.Fatalf("ZAdd() error = %v", err)
	}
	if err := cli.ZAdd(ctx, zkey, redis.Z{Score: float64(now + 60000), Member: "future"}).Err(); err != nil {
		t.Fatalf("ZAdd() error = %v", err)
	}

	if _, err := reg.eval(ctx, "moveDelayed", []string{zkey, lkey}, now); err != nil {
		t.Fatalf("eval() error = %v", err)
	}

	n, err := cli.LLen(ctx, lkey).Result()
	if err != nil {
		t.Fatalf("LLen() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("LLen() = %d, want 1 promoted entry", n)
	}
	val, err := cli.LPop(ctx, lkey).Result()
	if err != nil {
		t.Fatalf("LPop() error = %v", err)
	}
	if val != "past-due" {
		t.Fatalf("LPop() = %q, want %q", val, "past-due")
	}

	card, err := cli.ZCard(ctx, zkey).Result()
	if err != nil {
		t.Fatalf("ZCard() error = %v", err)
	}
	if card != 1 {
		t.Fatalf("ZCard() = %d, want 1 remaining (not-yet-due) entry", card)
	}
}

func TestScriptRegistryEvalNoDueEntriesIsNoop(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cli.Close()
	reg := newScriptRegistry(cli)
	ctx := context.Background()

	zkey, lkey := "imq:orders:delayed", "imq:orders"
	now := nowMs()
	if err := cli.ZAdd(ctx, zkey, redis.Z{Score: float64(now + 60000), Member: "future"}).Err(); err != nil {
		t.Fatalf("ZAdd() error = %v", err)
	}

	if _, err := reg.eval(ctx, "moveDelayed", []string{zkey, lkey}, now); err != nil {
		t.Fatalf("eval() error = %v", err)
	}

	n, err := cli.LLen(ctx, lkey).Result()
	if err != nil {
		t.Fatalf("LLen() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("LLen() = %d, want 0 (nothing is due yet)", n)
	}
}

func TestScriptRegistryEvalRejectsUnknownScript(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer mr.Close()

	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cli.Close()
	reg := newScriptRegistry(cli)

	if _, err := reg.eval(context.Background(), "nope", nil); err == nil {
		t.Fatalf("eval() of an unregistered script name should fail")
	}
}
