package urgency

import "testing"

func TestAnalyzeRedFlagIsUrgent(t *testing.T) {
	got := Analyze("I have crushing chest pain and I can’t breathe")
	if got.Level != Urgent {
		t.Fatalf("expected urgent, got %s", got.Level)
	}
	if len(got.Categories) != 2 || got.Categories[0] != Breathing || got.Categories[1] != ChestPain {
		t.Fatalf("unexpected categories %v", got.Categories)
	}
}

func TestAnalyzeWatchWordOnly(t *testing.T) {
	got := Analyze("A little fever since this morning")
	if got.Level != Watch {
		t.Fatalf("expected watch, got %s", got.Level)
	}
	if got.Score != watchWeight {
		t.Fatalf("unexpected score %d", got.Score)
	}
}

func TestAnalyzeWatchWordsAccumulate(t *testing.T) {
	got := Analyze("fever, chills and my temperature keeps rising")
	if got.Level != Urgent {
		t.Fatalf("three fever signals should escalate, got %s", got.Level)
	}
}

func TestAnalyzeNeutralText(t *testing.T) {
	for _, text := range []string{"", "   ", "Nausea, Fatigue", "Yes"} {
		if got := Analyze(text); got.Level != None {
			t.Fatalf("Analyze(%q) = %s, want none", text, got.Level)
		}
	}
}
