package util

import "testing"

func TestHashParts(t *testing.T) {
	if HashParts("ab", "c") == HashParts("a", "bc") {
		t.Errorf("expected different hashes for different part boundaries")
	}
	if HashParts("a", "b") != HashParts("a", "b") {
		t.Errorf("expected stable hashes")
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.PercentileEstimate(50) != 0 || h.AverageSize() != 0 {
		t.Errorf("expected zero estimates for an empty histogram")
	}

	for i := 0; i < 10; i++ {
		h.AddSample(10)
	}
	h.AddSample(2000)

	if h.Count() != 11 {
		t.Errorf("expected 11 samples, got %d", h.Count())
	}
	if h.Sum() != 2100 {
		t.Errorf("expected sum 2100, got %d", h.Sum())
	}
	if got := h.PercentileEstimate(50); got != 8 {
		t.Errorf("expected median estimate 8, got %d", got)
	}
	if got := h.PercentileEstimate(100); got != (1024+4096)/2 {
		t.Errorf("expected p100 estimate %d, got %d", (1024+4096)/2, got)
	}
}
