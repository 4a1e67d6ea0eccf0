package track

import (
	"testing"
)

func TestTrendAllEqualIsZero(t *testing.T) {
	r := newTrendRegister(DefaultPosHeightRegisterSize)
	r.reset(true, 5.0)
	for i := 0; i < 6; i++ {
		if trend := r.update(true, 5.0); trend != 0 {
			t.Fatalf("update %d: trend = %f, want 0", i, trend)
		}
	}
}

func TestTrendFewSamplesIsZero(t *testing.T) {
	r := newTrendRegister(DefaultPosHeightRegisterSize)
	r.reset(false, 0)
	if trend := r.update(true, 3.0); trend != 0 {
		t.Errorf("single valid sample: trend = %f, want 0", trend)
	}
}

func TestTrendLinearSequence(t *testing.T) {
	r := newTrendRegister(DefaultPosHeightRegisterSize)
	r.reset(true, 0)
	var trend float32
	for i := 1; i <= 5; i++ {
		trend = r.update(true, 0.2*float32(i))
	}
	if trend < 0.19 || trend > 0.21 {
		t.Errorf("linear sequence trend = %f, want 0.2", trend)
	}
}

func TestTrendDiscardsLeadingOutlier(t *testing.T) {
	r := newTrendRegister(DefaultPosHeightRegisterSize)
	r.reset(true, 1.0) // outlier
	r.update(true, 0.2)
	trend := r.update(true, 0.4)
	if trend < 0.19 || trend > 0.21 {
		t.Errorf("trend = %f, want 0.2 after discarding the outlier", trend)
	}
}

func TestTrendSkipsInvalidSamples(t *testing.T) {
	r := newTrendRegister(DefaultPosHeightRegisterSize)
	r.reset(true, 0)
	r.update(false, 99)
	trend := r.update(true, 0.4)
	if trend < 0.19 || trend > 0.21 {
		t.Errorf("trend = %f, want 0.2 over two valid samples two steps apart", trend)
	}
}

func TestUnstabilityStableBounds(t *testing.T) {
	r := newUnstabilityRegister(DefaultUnstabilityRegisterSize)
	r.reset()
	for i := 0; i < 8; i++ {
		if s := r.update(2.0, 5.0, true, true, 3.0, 6.0); s != 0 {
			t.Fatalf("stable bounds flagged unstable: %d", s)
		}
	}
}

func TestUnstabilityDriftingStart(t *testing.T) {
	r := newUnstabilityRegister(DefaultUnstabilityRegisterSize)
	r.reset()
	// The start bound sweeps back and forth while the end holds still;
	// once the width blows past the envelope the start side is blamed.
	vals := []float32{3, 2, 3, 2, 3}
	for _, v := range vals {
		r.update(v, 9.0, true, true, 5.0, 6.0)
	}
	if s := r.update(2, 9.0, true, true, 7.0, 6.0); s != -1 {
		t.Errorf("drifting start returned %d, want -1", s)
	}
}

func TestUnstabilityDriftingEnd(t *testing.T) {
	r := newUnstabilityRegister(DefaultUnstabilityRegisterSize)
	r.reset()
	vals := []float32{9, 8, 9, 8, 9}
	for _, v := range vals {
		r.update(2.0, v, true, true, 5.0, 6.0)
	}
	if s := r.update(2.0, 8, true, true, 7.0, 6.0); s != 1 {
		t.Errorf("drifting end returned %d, want 1", s)
	}
}

func TestUnstabilityNeedsOverlongPlateau(t *testing.T) {
	r := newUnstabilityRegister(DefaultUnstabilityRegisterSize)
	r.reset()
	vals := []float32{3, 2, 3, 2, 3}
	for _, v := range vals {
		r.update(v, 9.0, true, true, 5.0, 6.0)
	}
	// Width still inside the envelope: no verdict even with a noisy
	// start.
	if s := r.update(2, 9.0, true, true, 5.0, 6.0); s != 0 {
		t.Errorf("in-envelope plateau returned %d, want 0", s)
	}
}
