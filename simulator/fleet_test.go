package simulator

import (
	"math/rand"
	"testing"
)

func TestGenerateBinsCount(t *testing.T) {
	bins, err := GenerateBins(FleetConfig{Bins: 5}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	if len(bins) != 5 {
		t.Fatalf("expected 5 bins, got %d", len(bins))
	}
	if bins[0].Code != "100001" || bins[4].Code != "100005" {
		t.Fatalf("unexpected codes %s %s", bins[0].Code, bins[4].Code)
	}
	for _, b := range bins {
		if b.Fill() < 0 || b.Fill() > 50 {
			t.Fatalf("%s starts at %.1f%%", b.Code, b.Fill())
		}
		if b.FillRate < 1 || b.FillRate > 3 {
			t.Fatalf("%s fill rate %.2f outside spread", b.Code, b.FillRate)
		}
	}
}

func TestGenerateBinsRejectsLongCodes(t *testing.T) {
	if _, err := GenerateBins(FleetConfig{Bins: 3, FirstCode: 999998}, rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("expected error for codes past 999999")
	}
	bins, err := GenerateBins(FleetConfig{}, rand.New(rand.NewSource(1)))
	if err != nil || bins != nil {
		t.Fatalf("empty fleet: %v %v", bins, err)
	}
}

func TestDriverIDs(t *testing.T) {
	ids := DriverIDs(3)
	if len(ids) != 3 || ids[0] != "drv001" || ids[2] != "drv003" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestLoadFillProfile(t *testing.T) {
	prof, err := LoadFillProfile([]byte(`{"0":0.1,"12":2.5,"30":9,"x":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if prof.Factor(12) != 2.5 || prof.Factor(0) != 0.1 {
		t.Fatalf("unexpected profile %v", prof)
	}
	if prof.Factor(5) != 0 {
		t.Fatalf("unset hour should contribute nothing, got %f", prof.Factor(5))
	}
	if (FillProfile{}).Factor(5) != 1 {
		t.Fatal("empty profile should be flat")
	}
}

func TestLoadFillProfileError(t *testing.T) {
	if _, err := LoadFillProfile([]byte(`invalid`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestBinStep(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := NewSimulatedBin("100001", 95, 10)
	b.DrainRate = 60

	r := b.Step(rng, 1)
	if r.Fill != 100 {
		t.Fatalf("fill should cap at 100, got %.2f", r.Fill)
	}
	if r.Health.BatteryLevel != 40 || r.Health.SignalStrength != 2 || !r.Online {
		t.Fatalf("unexpected health %+v", r.Health)
	}

	r = b.Step(rng, 1)
	if r.Online || r.Health.IsOnline {
		t.Fatal("a flat battery takes the bin offline")
	}
	if r.Health.SensorUptime != 50 {
		t.Fatalf("expected 50%% uptime, got %.2f", r.Health.SensorUptime)
	}

	b.Empty()
	if b.Fill() != 0 || b.Emptied() != 1 {
		t.Fatalf("empty: fill %.1f emptied %d", b.Fill(), b.Emptied())
	}
}
