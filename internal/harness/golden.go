package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/specmut/internal/mutation"
)

// TraceSnapshot captures a scenario's complete event trace for golden
// comparison. Serialized with canonical JSON so byte equality is
// meaningful.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap lowers the snapshot to the value shapes canonical JSON
// accepts.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		eventMap := map[string]any{
			"id":         ev.ID,
			"subject":    ev.Subject,
			"subject_id": ev.SubjectID,
			"status":     ev.Status,
			"seq":        ev.Seq,
		}
		if ev.Message != "" {
			eventMap["message"] = ev.Message
		}
		if ev.Progress != nil {
			eventMap["progress"] = *ev.Progress
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Trace:        result.Trace,
	}
	traceJSON, err := mutation.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return result, nil
}
