package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewCrawlResult(t *testing.T) {
	t.Parallel()

	index := NewState(0, "http://app.test/", "<body>index</body>")
	second := NewState(1, "http://app.test/#a", "<body>a</body>")
	click := CandidateAction{Element: Identification{How: HowXPath, Value: "/HTML[1]/BODY[1]/A[1]"}, Event: EventClick}
	index.AddCandidates([]CandidateAction{click})
	index.MarkAttempted(click)
	second.RecordFailure(CandidateAction{Element: Identification{How: HowID, Value: "x"}, Event: EventClick}, "not visible")

	edges := []Edge{
		{From: 0, To: 1, Action: click},
		{From: 1, To: 1, Action: CandidateAction{Event: EventHover}},
	}

	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	// States are passed out of order on purpose.
	r := NewCrawlResult("http://app.test/", []*State{second, index}, edges, ExitExhausted, started, finished, 2)

	if r.States[0].Name != "index" || r.States[1].Name != "state1" {
		t.Fatalf("states not ordered by id: %+v", r.States)
	}

	s1, ok := r.State(1)
	if !ok {
		t.Fatal("state 1 missing")
	}
	if s1.FanIn != 2 || s1.FanOut != 1 {
		t.Errorf("state1 fan in/out = %d/%d, want 2/1", s1.FanIn, s1.FanOut)
	}

	want := Statistics{
		States:       2,
		Edges:        2,
		Candidates:   1,
		Attempted:    2,
		FailedEvents: 1,
		Browsers:     2,
		Duration:     90 * time.Second,
	}
	if r.Statistics != want {
		t.Errorf("statistics = %+v, want %+v", r.Statistics, want)
	}

	byEvent := r.EdgesByEvent()
	if byEvent[EventClick] != 1 || byEvent[EventHover] != 1 {
		t.Errorf("unexpected edge counts %v", byEvent)
	}

	if _, ok := r.StateHashes()[index.Hash]; !ok {
		t.Error("index hash missing from StateHashes")
	}
}

func TestExitStatus(t *testing.T) {
	t.Parallel()

	t.Run("String uses documented names", func(t *testing.T) {
		t.Parallel()

		tests := map[ExitStatus]string{
			ExitMaxStates: "Maximum states passed",
			ExitMaxTime:   "Maximum time passed",
			ExitExhausted: "Exhausted",
			ExitError:     "Errored",
			ExitStopped:   "Stopped manually",
			ExitUnknown:   "Unknown",
		}
		for status, want := range tests {
			if got := status.String(); got != want {
				t.Errorf("%d.String() = %q, want %q", status, got, want)
			}
		}
	})

	t.Run("JSON uses the status code", func(t *testing.T) {
		t.Parallel()

		data, err := json.Marshal(struct {
			Status ExitStatus `json:"status"`
		}{ExitMaxTime})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"MAX_TIME"`) {
			t.Errorf("unexpected JSON %s", data)
		}

		var decoded struct {
			Status ExitStatus `json:"status"`
		}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.Status != ExitMaxTime {
			t.Errorf("decoded %v, want %v", decoded.Status, ExitMaxTime)
		}
	})

	t.Run("unknown code is rejected", func(t *testing.T) {
		t.Parallel()
		if _, err := ParseExitStatus("NOPE"); err == nil {
			t.Error("expected error")
		}
	})
}
