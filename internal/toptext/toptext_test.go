package toptext

import "testing"

func TestExtract_EmptyInputReturnsNil(t *testing.T) {
	if got := Extract(nil); got != nil {
		t.Fatalf("expected nil for no input texts, got %+v", got)
	}
}

func TestExtract_RanksByFrequencyAndFiltersStopWords(t *testing.T) {
	texts := []string{
		"rocket rocket launch pad countdown begins for the orbital rocket mission today",
		"the rocket launch drew crowds near the coastal launch pad this morning",
	}

	got := Extract(texts)
	if len(got) == 0 {
		t.Fatalf("expected at least one top term")
	}
	// Terms count once per article, so rocket, launch and pad all tie at 2;
	// ties break alphabetically, which puts launch first.
	if got[0].Term != "launch" {
		t.Fatalf("expected 'launch' to be the top term, got %q", got[0].Term)
	}
	if got[0].Weight != 1.0 {
		t.Fatalf("expected the top term's weight to be normalized to 1.0, got %v", got[0].Weight)
	}
	for _, term := range got {
		if term.Term == "the" || term.Term == "for" {
			t.Fatalf("expected stop words to be filtered out, found %q", term.Term)
		}
	}
}

func TestExtract_CountsEachTermOncePerArticle(t *testing.T) {
	texts := []string{
		"launch launch launch launch launch pad crowd",
		"crowd gathered near the pad",
	}
	got := Extract(texts)

	var launchWeight, crowdWeight float64
	for _, term := range got {
		switch term.Term {
		case "launch":
			launchWeight = term.Weight
		case "crowd":
			crowdWeight = term.Weight
		}
	}
	if launchWeight >= crowdWeight {
		t.Fatalf("expected 'launch' (1 article) to weigh less than 'crowd' (2 articles), got launch=%v crowd=%v", launchWeight, crowdWeight)
	}
}

func TestExtract_TruncatesToMaxTerms(t *testing.T) {
	text := "alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima mike november"
	got := Extract([]string{text})
	if len(got) > MaxTerms {
		t.Fatalf("expected at most %d terms, got %d", MaxTerms, len(got))
	}
}
