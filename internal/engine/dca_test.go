package engine

import (
	"errors"
	"testing"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
)

func dcaConfig() config.DCAConfig {
	return config.DCAConfig{
		Enabled:         true,
		TriggerPercent:  2.0,
		OrderSize:       0.02,
		ScalingFactor:   1.5,
		MaxOrders:       5,
		RecoveryPercent: 1.5,
	}
}

func TestDCATriggerLadderScaling(t *testing.T) {
	d := NewDCA(dcaConfig(), "BTCUSDT", testLogger())
	d.Initialize(60000)

	// Small dip below the trigger does nothing.
	if intents := d.OnTick(tick(59500)); len(intents) != 0 {
		t.Fatalf("1.17%% dip triggered %d intents, want 0", len(intents))
	}

	// -2% from 60000 triggers entry #1 at base size.
	intents := d.OnTick(tick(58800))
	if len(intents) != 1 {
		t.Fatalf("intent count = %d, want 1", len(intents))
	}
	in := intents[0]
	if in.Type != domain.OrderTypeMarket || in.Side != domain.OrderSideBuy {
		t.Errorf("intent = %s %s, want market buy", in.Type, in.Side)
	}
	if !approx(in.Size, 0.02) {
		t.Errorf("entry #1 size = %v, want 0.02", in.Size)
	}
	if !approx(d.TrendReference(), 58800) {
		t.Errorf("reference = %v, want ratcheted to 58800", d.TrendReference())
	}

	// Re-evaluating the same price must not re-trigger.
	if intents := d.OnTick(tick(58800)); len(intents) != 0 {
		t.Fatalf("re-trigger at the reference produced %d intents", len(intents))
	}

	// -2% from the new reference triggers entry #2 at 1.5x base.
	intents = d.OnTick(tick(57624))
	if len(intents) != 1 {
		t.Fatalf("intent count = %d, want 1", len(intents))
	}
	if !approx(intents[0].Size, 0.03) {
		t.Errorf("entry #2 size = %v, want 0.03", intents[0].Size)
	}

	ladder := d.Ladder()
	if len(ladder) != 2 {
		t.Fatalf("ladder length = %d, want 2", len(ladder))
	}
	if ladder[0].Sequence != 1 || ladder[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", ladder[0].Sequence, ladder[1].Sequence)
	}
	if !approx(ladder[1].TriggerPrice, 57624) {
		t.Errorf("entry #2 trigger = %v, want 57624", ladder[1].TriggerPrice)
	}
}

func TestDCALadderCapped(t *testing.T) {
	cfg := dcaConfig()
	cfg.RecoveryPercent = 0
	d := NewDCA(cfg, "BTCUSDT", testLogger())
	d.Initialize(60000)

	price := 60000.0
	for i := 0; i < 8; i++ {
		price *= 0.97 // well past the trigger every time
		intents := d.OnTick(tick(price))
		if i < 5 && len(intents) != 1 {
			t.Fatalf("drop %d: intent count = %d, want 1", i+1, len(intents))
		}
		if i >= 5 && len(intents) != 0 {
			t.Fatalf("drop %d: triggered beyond max_orders", i+1)
		}
	}

	ladder := d.Ladder()
	if len(ladder) != 5 {
		t.Fatalf("ladder length = %d, want 5", len(ladder))
	}
	// Sizes follow base * 1.5^(n-1).
	want := []float64{0.02, 0.03, 0.045, 0.0675, 0.10125}
	for i, e := range ladder {
		if !approx(e.Size, want[i]) {
			t.Errorf("entry %d size = %v, want %v", e.Sequence, e.Size, want[i])
		}
	}
}

func TestDCARecoveryClearsLadder(t *testing.T) {
	d := NewDCA(dcaConfig(), "BTCUSDT", testLogger())
	d.Initialize(60000)

	if intents := d.OnTick(tick(58800)); len(intents) != 1 {
		t.Fatal("expected entry #1")
	}

	// Recovery threshold is 1.5% above the ratcheted reference 58800.
	if intents := d.OnTick(tick(59682)); len(intents) != 0 {
		t.Fatalf("recovery tick produced %d intents", len(intents))
	}
	if len(d.Ladder()) != 0 {
		t.Errorf("ladder length after recovery = %d, want 0", len(d.Ladder()))
	}
	if !approx(d.TrendReference(), 59682) {
		t.Errorf("reference after recovery = %v, want 59682", d.TrendReference())
	}
}

func TestDCADisabledIsNoop(t *testing.T) {
	cfg := dcaConfig()
	cfg.Enabled = false
	d := NewDCA(cfg, "BTCUSDT", testLogger())
	d.Initialize(60000)

	if intents := d.OnTick(tick(50000)); len(intents) != 0 {
		t.Errorf("disabled engine produced %d intents", len(intents))
	}
}

func TestDCARejectedPlacementFreesSlot(t *testing.T) {
	d := NewDCA(dcaConfig(), "BTCUSDT", testLogger())
	d.Initialize(60000)

	intents := d.OnTick(tick(58800))
	if len(intents) != 1 {
		t.Fatal("expected entry #1")
	}
	d.RejectPlaced(intents[0].LinkID, errors.New("insufficient balance"))

	if len(d.Ladder()) != 0 {
		t.Errorf("ladder length after reject = %d, want 0", len(d.Ladder()))
	}
	// Reference stays ratcheted: the same price must not re-trigger.
	if intents := d.OnTick(tick(58800)); len(intents) != 0 {
		t.Error("rejected entry re-triggered at the same price")
	}
	// A further adverse move triggers again, back at sequence 1.
	intents = d.OnTick(tick(57624))
	if len(intents) != 1 {
		t.Fatal("expected re-trigger after further drop")
	}
	if !approx(intents[0].Size, 0.02) {
		t.Errorf("size after freed slot = %v, want base 0.02", intents[0].Size)
	}
}

func TestDCARestoreRoundTrip(t *testing.T) {
	d := NewDCA(dcaConfig(), "BTCUSDT", testLogger())
	d.Initialize(60000)
	d.OnTick(tick(58800))
	d.OnTick(tick(57624))

	saved := d.Ladder()
	ref := d.TrendReference()

	d2 := NewDCA(dcaConfig(), "BTCUSDT", testLogger())
	d2.Restore(saved, ref)

	if !approx(d2.TrendReference(), ref) {
		t.Errorf("reference = %v, want %v", d2.TrendReference(), ref)
	}
	restored := d2.Ladder()
	if len(restored) != len(saved) {
		t.Fatalf("ladder length = %d, want %d", len(restored), len(saved))
	}
	for i := range saved {
		if saved[i] != restored[i] {
			t.Errorf("entry %d differs after restore", i)
		}
	}
	// Continuation respects the cap from the restored length.
	for i := 0; i < 5; i++ {
		d2.OnTick(tick(d2.TrendReference() * 0.97))
	}
	if len(d2.Ladder()) != 5 {
		t.Errorf("ladder length after continuation = %d, want 5", len(d2.Ladder()))
	}
}
