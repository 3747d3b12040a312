package indicator

import "testing"

func TestEngine_RejectsBadPeriods(t *testing.T) {
	for _, cfg := range []Config{
		{0, 14, 3, 3},
		{14, -1, 3, 3},
		{14, 14, 0, 3},
		{14, 14, 3, 0},
	} {
		if _, err := NewEngine(cfg); err == nil {
			t.Errorf("%+v: expected error", cfg)
		}
	}
}

func TestEngine_ReadingsCascade(t *testing.T) {
	cfg := DefaultConfig()
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	firstRSI, firstKD := 0, 0
	for i, p := range oscillating(60) {
		r := engine.Update(p)
		if r.HasRSI && firstRSI == 0 {
			firstRSI = i + 1
		}
		if r.HasKD && firstKD == 0 {
			firstKD = i + 1
			if !r.HasRSI {
				t.Fatal("K/D defined without RSI")
			}
		}
	}
	if firstRSI != cfg.RSIPeriod+2 {
		t.Errorf("first RSI at %d, want %d", firstRSI, cfg.RSIPeriod+2)
	}
	if firstKD != cfg.WarmUp() {
		t.Errorf("first K/D at %d, want %d", firstKD, cfg.WarmUp())
	}
	if engine.Count() != 60 {
		t.Errorf("Count()=%d, want 60", engine.Count())
	}
}

func TestConfig_WarmUpDefaults(t *testing.T) {
	if got := DefaultConfig().WarmUp(); got != 33 {
		t.Fatalf("WarmUp()=%d, want 33", got)
	}
}
