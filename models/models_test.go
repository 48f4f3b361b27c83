package models

import (
	"encoding/json"
	"sort"
	"testing"
	"time"
)

func TestLevelUnmarshalStringPair(t *testing.T) {
	var lvl Level
	if err := json.Unmarshal([]byte(`["4.00000200","12.00000000"]`), &lvl); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if lvl.Price != 4.000002 || lvl.Amount != 12.0 {
		t.Fatalf("unexpected level: %+v", lvl)
	}
}

func TestLevelUnmarshalVariants(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  Level
	}{
		{"numbers", `[16578.5, 0.25]`, Level{Price: 16578.5, Amount: 0.25}},
		{"okx four elements", `["8476.98","415","0","13"]`, Level{Price: 8476.98, Amount: 415}},
		{"object", `{"price":1.5,"amount":2}`, Level{Price: 1.5, Amount: 2}},
	}
	for _, c := range cases {
		var lvl Level
		if err := json.Unmarshal([]byte(c.input), &lvl); err != nil {
			t.Fatalf("%s: unmarshal: %v", c.name, err)
		}
		if lvl.Price != c.want.Price || lvl.Amount != c.want.Amount {
			t.Errorf("%s: got %+v want %+v", c.name, lvl, c.want)
		}
	}

	var padded Level
	if err := json.Unmarshal([]byte(`["0.10","5.000","0","1"]`), &padded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if price, amount := padded.Text(); price != "0.10" || amount != "5.000" {
		t.Fatalf("venue text lost: %q %q", price, amount)
	}
	if price, amount := (Level{Price: 0.1, Amount: 5}).Text(); price != "0.1" || amount != "5" {
		t.Fatalf("unexpected fallback text: %q %q", price, amount)
	}

	var lvl Level
	if err := json.Unmarshal([]byte(`["1"]`), &lvl); err == nil {
		t.Fatalf("expected error for single element level")
	}
	if err := json.Unmarshal([]byte(`["abc","1"]`), &lvl); err == nil {
		t.Fatalf("expected error for non-numeric price")
	}
}

func TestOrderBookApplyKeepsSidesSorted(t *testing.T) {
	ob := NewOrderBook(1, time.Unix(0, 0),
		[]Level{{Price: 99, Amount: 1}, {Price: 101, Amount: 2}, {Price: 100, Amount: 3}},
		[]Level{{Price: 104, Amount: 1}, {Price: 102, Amount: 2}, {Price: 103, Amount: 0}},
	)
	if len(ob.Asks) != 2 {
		t.Fatalf("zero amount snapshot level should be dropped, got %+v", ob.Asks)
	}

	ob.Apply(2, time.Unix(1, 0),
		[]Level{{Price: 100, Amount: 0}, {Price: 100.5, Amount: 4}, {Price: 101, Amount: 7}},
		[]Level{{Price: 101.5, Amount: 1}, {Price: 104, Amount: 0}, {Price: 200, Amount: 0}},
	)

	wantBids := []Level{{Price: 101, Amount: 7}, {Price: 100.5, Amount: 4}, {Price: 99, Amount: 1}}
	wantAsks := []Level{{Price: 101.5, Amount: 1}, {Price: 102, Amount: 2}}
	if !equalLevels(ob.Bids, wantBids) {
		t.Fatalf("bids = %+v, want %+v", ob.Bids, wantBids)
	}
	if !equalLevels(ob.Asks, wantAsks) {
		t.Fatalf("asks = %+v, want %+v", ob.Asks, wantAsks)
	}
	if ob.Sequence != 2 || !ob.LastUpdateTime.Equal(time.Unix(1, 0)) {
		t.Fatalf("unexpected sequence/time: %d %v", ob.Sequence, ob.LastUpdateTime)
	}
	if !sort.SliceIsSorted(ob.Bids, func(i, j int) bool { return ob.Bids[i].Price > ob.Bids[j].Price }) {
		t.Fatalf("bids not descending")
	}
	if !sort.SliceIsSorted(ob.Asks, func(i, j int) bool { return ob.Asks[i].Price < ob.Asks[j].Price }) {
		t.Fatalf("asks not ascending")
	}
}

func TestOrderBookSnapshotIsDeepCopy(t *testing.T) {
	ob := NewOrderBook(5, time.Time{}, []Level{{Price: 10, Amount: 1}, {Price: 9, Amount: 1}}, []Level{{Price: 11, Amount: 1}})
	snap := ob.Snapshot(1)
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 10 {
		t.Fatalf("unexpected depth-limited snapshot: %+v", snap)
	}
	ob.Apply(6, time.Time{}, []Level{{Price: 10, Amount: 5}}, nil)
	if snap.Bids[0].Amount != 1 {
		t.Fatalf("snapshot shares memory with book")
	}
	mid, ok := ob.MidPrice()
	if !ok || mid != 10.5 {
		t.Fatalf("mid = %v %v", mid, ok)
	}
	vwmp, ok := ob.VolumeWeightedMidPrice()
	if !ok || vwmp != (10*1+11*5)/6.0 {
		t.Fatalf("vwmp = %v %v", vwmp, ok)
	}
}

func TestInstrumentCompare(t *testing.T) {
	expiry := time.Date(2024, 3, 29, 8, 0, 0, 0, time.UTC)
	a := NewInstrument("BTC", "USDT", Spot())
	b := NewInstrument("btc", "usdt", Spot())
	c := NewInstrument("btc", "usdt", Perpetual())
	call := NewInstrument("btc", "usd", Option(OptionContract{Kind: OptionCall, Exercise: ExerciseEuropean, Expiry: expiry, Strike: 50000}))
	put := NewInstrument("btc", "usd", Option(OptionContract{Kind: OptionPut, Exercise: ExerciseEuropean, Expiry: expiry, Strike: 50000}))
	call2 := NewInstrument("btc", "usd", Option(OptionContract{Kind: OptionCall, Exercise: ExerciseEuropean, Expiry: expiry, Strike: 50000}))

	if !a.Equal(b) {
		t.Fatalf("expected case-insensitive equality")
	}
	if a.Equal(c) {
		t.Fatalf("spot and perpetual must differ")
	}
	if call.Equal(put) || !call.Equal(call2) {
		t.Fatalf("option equality must use contract terms")
	}
	if a.Compare(c) >= 0 || c.Compare(a) <= 0 {
		t.Fatalf("ordering not antisymmetric")
	}
	if err := NewInstrument("btc", "", Spot()).Validate(); err == nil {
		t.Fatalf("expected missing quote to fail validation")
	}
	if err := NewInstrument("btc", "usd", InstrumentKind{Type: InstrumentFuture}).Validate(); err == nil {
		t.Fatalf("expected future without expiry to fail validation")
	}
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"Buy": Buy, "SELL": Sell, "b": Buy, "ask": Sell} {
		got, err := ParseSide(in)
		if err != nil || got != want {
			t.Errorf("ParseSide(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSide("hold"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSubscriptionID(t *testing.T) {
	if got := NewSubscriptionID("publicTrade", "BTCUSDT"); got != "publicTrade|BTCUSDT" {
		t.Fatalf("unexpected id %q", got)
	}
}

func equalLevels(a, b []Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
