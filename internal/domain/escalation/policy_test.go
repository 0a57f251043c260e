package escalation

import (
	"testing"
	"time"
)

func TestParamsFor_StricterForSevereCases(t *testing.T) {
	tests := []struct {
		acuity  int
		timeout time.Duration
		ceiling int
	}{
		{1, 2 * time.Minute, 1},
		{2, 5 * time.Minute, 2},
		{3, 10 * time.Minute, 3},
		{4, 15 * time.Minute, 4},
		{5, 20 * time.Minute, 5},
	}

	for _, tt := range tests {
		p := ParamsFor(tt.acuity)
		if p.ResponseTimeout != tt.timeout {
			t.Errorf("acuity %d: timeout = %v, want %v", tt.acuity, p.ResponseTimeout, tt.timeout)
		}
		if p.RejectionCeiling != tt.ceiling {
			t.Errorf("acuity %d: ceiling = %d, want %d", tt.acuity, p.RejectionCeiling, tt.ceiling)
		}
	}
}

func TestParamsFor_ClampsOutOfRange(t *testing.T) {
	if ParamsFor(0) != ParamsFor(1) {
		t.Error("acuity below range should clamp to 1")
	}
	if ParamsFor(9) != ParamsFor(5) {
		t.Error("acuity above range should clamp to 5")
	}
}

func TestTimeoutRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-3 * time.Minute)

	// Acuity 2 allows 5 minutes; 3 elapsed leaves 2.
	if got := TimeoutRemaining(&since, 2, now); got != 2*time.Minute {
		t.Errorf("remaining = %v, want 2m", got)
	}

	// Acuity 1 allows 2 minutes; 3 elapsed means due.
	if got := TimeoutRemaining(&since, 1, now); got != 0 {
		t.Errorf("remaining = %v, want 0 once elapsed", got)
	}
	if !Due(&since, 1, now) {
		t.Error("elapsed cycle should be due")
	}
	if Due(&since, 2, now) {
		t.Error("open cycle should not be due")
	}
}

func TestTimeoutRemaining_NoOpenCycle(t *testing.T) {
	now := time.Now()
	if got := TimeoutRemaining(nil, 1, now); got != 0 {
		t.Errorf("remaining = %v, want 0 without an open cycle", got)
	}
	if Due(nil, 1, now) {
		t.Error("no open cycle should never be due")
	}
}
