package scoring

import "testing"

func TestCalculateLTPScoreLevelOnly(t *testing.T) {
	score := CalculateLTPScore(100, 0, 0)
	if score.Overall != 35 {
		t.Fatalf("expected overall 35 from the level weight alone, got %v", score.Overall)
	}
	if score.Level != 100 || score.Trend != 0 || score.Patience != 0 {
		t.Fatalf("components not preserved: %+v", score)
	}
}

func TestCalculateLTPScorePerfect(t *testing.T) {
	score := CalculateLTPScore(100, 100, 100)
	if score.Overall != 100 {
		t.Fatalf("expected overall 100, got %v", score.Overall)
	}
}

func TestCalculateLTPScoreZero(t *testing.T) {
	score := CalculateLTPScore(0, 0, 0)
	if score.Overall != 0 {
		t.Fatalf("expected overall 0, got %v", score.Overall)
	}
}

func TestCalculateLTPScoreClampsInputs(t *testing.T) {
	score := CalculateLTPScore(250, -50, 100)
	if score.Level != 100 {
		t.Fatalf("level should clamp to 100, got %v", score.Level)
	}
	if score.Trend != 0 {
		t.Fatalf("trend should clamp to 0, got %v", score.Trend)
	}
	if score.Overall < 0 || score.Overall > 100 {
		t.Fatalf("overall out of range: %v", score.Overall)
	}
}

func TestCalculateLTPScoreRounds(t *testing.T) {
	// 0.35*51 + 0.35*52 + 0.30*53 = 51.95 -> 52
	score := CalculateLTPScore(51, 52, 53)
	if score.Overall != 52 {
		t.Fatalf("expected rounded overall 52, got %v", score.Overall)
	}
}

func TestGradeForBoundaries(t *testing.T) {
	cases := []struct {
		overall float64
		want    string
	}{
		{100, "A"},
		{90, "A"},
		{89, "B"},
		{80, "B"},
		{79, "C"},
		{70, "C"},
		{69, "D"},
		{60, "D"},
		{59, "F"},
		{0, "F"},
	}
	for _, tc := range cases {
		if got := GradeFor(tc.overall); got != tc.want {
			t.Fatalf("GradeFor(%v) = %q, want %q", tc.overall, got, tc.want)
		}
	}
}
