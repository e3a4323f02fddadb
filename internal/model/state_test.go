package model

import (
	"sync"
	"testing"
)

func TestStateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   int
		want string
	}{
		{0, "index"},
		{1, "state1"},
		{42, "state42"},
	}

	for _, tt := range tests {
		if got := StateName(tt.id); got != tt.want {
			t.Errorf("StateName(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestFingerprintHash(t *testing.T) {
	t.Parallel()

	t.Run("same fingerprint gives same hash", func(t *testing.T) {
		t.Parallel()
		if FingerprintHash("<html></html>") != FingerprintHash("<html></html>") {
			t.Error("expected identical hashes")
		}
	})

	t.Run("different fingerprints give different hashes", func(t *testing.T) {
		t.Parallel()
		if FingerprintHash("<p>a</p>") == FingerprintHash("<p>b</p>") {
			t.Error("expected different hashes")
		}
	})

	t.Run("hash is 64 hex characters", func(t *testing.T) {
		t.Parallel()
		if got := len(FingerprintHash("x")); got != 64 {
			t.Errorf("expected 64 characters, got %d", got)
		}
	})
}

func TestState_AddCandidates(t *testing.T) {
	t.Parallel()

	click := func(xpath string) CandidateAction {
		return CandidateAction{
			Element: Identification{How: HowXPath, Value: xpath},
			Event:   EventClick,
		}
	}

	t.Run("duplicates are ignored", func(t *testing.T) {
		t.Parallel()

		s := NewState(3, "http://example.com", "<body/>")
		added := s.AddCandidates([]CandidateAction{click("/A[1]"), click("/A[1]"), click("/A[2]")})
		if len(added) != 2 {
			t.Fatalf("expected 2 added actions, got %d", len(added))
		}
		if more := s.AddCandidates([]CandidateAction{click("/A[2]")}); len(more) != 0 {
			t.Errorf("expected no new actions, got %d", len(more))
		}
		if got := len(s.Candidates()); got != 2 {
			t.Errorf("expected 2 candidates, got %d", got)
		}
	})

	t.Run("owning state id is stamped", func(t *testing.T) {
		t.Parallel()

		s := NewState(7, "", "")
		added := s.AddCandidates([]CandidateAction{click("/BUTTON[1]")})
		if added[0].StateID != 7 {
			t.Errorf("expected StateID 7, got %d", added[0].StateID)
		}
	})

	t.Run("same element with different frame path is distinct", func(t *testing.T) {
		t.Parallel()

		s := NewState(1, "", "")
		a := click("/A[1]")
		b := click("/A[1]")
		b.FramePath = "menu"
		if got := len(s.AddCandidates([]CandidateAction{a, b})); got != 2 {
			t.Errorf("expected 2 actions, got %d", got)
		}
	})
}

func TestState_Attempted(t *testing.T) {
	t.Parallel()

	s := NewState(0, "", "")
	a := CandidateAction{Element: Identification{How: HowID, Value: "go"}, Event: EventClick}
	s.AddCandidates([]CandidateAction{a})

	if s.IsAttempted(a) {
		t.Fatal("action should not be attempted yet")
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.MarkAttempted(a)
		}()
	}
	wg.Wait()

	if !s.IsAttempted(a) {
		t.Error("action should be attempted")
	}
	if got := s.AttemptedCount(); got != 1 {
		t.Errorf("expected 1 attempted action, got %d", got)
	}

	s.RecordFailure(a, "element not found")
	failed := s.FailedEvents()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed event, got %d", len(failed))
	}
	if failed[0] != "click id:go: element not found" {
		t.Errorf("unexpected failure description %q", failed[0])
	}
}

func TestCandidateAction_Frames(t *testing.T) {
	t.Parallel()

	a := CandidateAction{FramePath: "outer.inner"}
	frames := a.Frames()
	if len(frames) != 2 || frames[0] != "outer" || frames[1] != "inner" {
		t.Errorf("unexpected frames %v", frames)
	}

	if (CandidateAction{}).Frames() != nil {
		t.Error("expected nil frames for top-level action")
	}
}
