package cache

import (
	"context"
	"testing"
	"time"
)

func TestEncodeStringPassthrough(t *testing.T) {
	data, err := encode("plain text")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != "plain text" {
		t.Fatalf("expected passthrough, got %q", data)
	}
}

func TestEncodeDecodeStruct(t *testing.T) {
	type payload struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}

	data, err := encode(payload{Symbol: "SPY", Price: 451.25})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got payload
	if err := decodeInto(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Symbol != "SPY" || got.Price != 451.25 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestDecodeIntoString(t *testing.T) {
	var s string
	if err := decodeInto([]byte("raw bytes"), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s != "raw bytes" {
		t.Fatalf("expected passthrough, got %q", s)
	}
}

func TestLocalCacheExpiry(t *testing.T) {
	lc := newLocalCache(10, time.Minute)
	defer lc.close()

	lc.set("k", []byte("v"), 15*time.Millisecond)
	if _, ok := lc.get("k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := lc.get("k"); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestLocalCacheEvictsOldest(t *testing.T) {
	lc := newLocalCache(2, time.Minute)
	defer lc.close()

	lc.set("a", []byte("1"), time.Minute)
	time.Sleep(time.Millisecond)
	lc.set("b", []byte("2"), time.Minute)
	time.Sleep(time.Millisecond)
	lc.set("c", []byte("3"), time.Minute)

	if _, ok := lc.get("a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := lc.get("b"); !ok {
		t.Fatal("recent entry evicted")
	}
	if _, ok := lc.get("c"); !ok {
		t.Fatal("newest entry missing")
	}
}

func TestLocalCacheRemovePrefix(t *testing.T) {
	lc := newLocalCache(10, time.Minute)
	defer lc.close()

	lc.set("levels:SPY", []byte("1"), time.Minute)
	lc.set("levels:QQQ", []byte("2"), time.Minute)
	lc.set("alerts:SPY", []byte("3"), time.Minute)

	lc.removePrefix("levels:")

	if _, ok := lc.get("levels:SPY"); ok {
		t.Fatal("prefixed entry survived removal")
	}
	if _, ok := lc.get("alerts:SPY"); !ok {
		t.Fatal("unrelated entry removed")
	}
}

func TestGenerateKeyWithParams(t *testing.T) {
	got := GenerateKeyWithParams("alerts", "SPY", 1710500000, 50)
	if got != "alerts:SPY:1710500000:50" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestBuildPatternRoundtrip(t *testing.T) {
	p := BuildPattern("levels:")
	if p != "levels:*" {
		t.Fatalf("unexpected pattern %q", p)
	}
	if trimGlob(p) != "levels:" {
		t.Fatalf("trimGlob(%q) = %q", p, trimGlob(p))
	}
}

type staticMGet struct {
	Service
	rows map[string]string
}

func (s staticMGet) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := s.rows[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func TestMGetTypedDropsUndecodable(t *testing.T) {
	type row struct {
		N int `json:"n"`
	}
	src := staticMGet{rows: map[string]string{
		"good": `{"n":7}`,
		"bad":  `{not json`,
	}}

	got, err := MGetTyped[row](context.Background(), src, "good", "bad", "absent")
	if err != nil {
		t.Fatalf("mget typed: %v", err)
	}
	if len(got) != 1 || got["good"].N != 7 {
		t.Fatalf("unexpected result %+v", got)
	}
}
