package cli

import (
	"strings"
	"testing"
)

func TestExecutionRoundTrip(t *testing.T) {
	db := testStorePath(t)

	out, err := runCLI(t, db, "--format", "json", "submit",
		"--project", "proj-1", "--op", "create",
		"--changes", `{"file":"new.go"}`, "--auto-approve", "--by", "alice")
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	resp := decodeResponse(t, out)
	data := resp.Data.(map[string]any)
	mutationID := data["mutation_id"].(string)
	if data["status"] != "queued" {
		t.Fatalf("status = %v, want queued", data["status"])
	}

	out, err = runCLI(t, db, "--format", "json", "claim")
	if err != nil {
		t.Fatalf("claim: %v\n%s", err, out)
	}
	resp = decodeResponse(t, out)
	claim := resp.Data.(map[string]any)
	if claim["claimed"] != true {
		t.Fatalf("claim = %v, want a claimed record", claim)
	}
	claimed := claim["mutation"].(map[string]any)
	if claimed["id"] != mutationID {
		t.Fatalf("claimed %v, want %s", claimed["id"], mutationID)
	}

	out, err = runCLI(t, db, "--format", "json", "progress", mutationID,
		"--percent", "60", "--message", "writing files")
	if err != nil {
		t.Fatalf("progress: %v\n%s", err, out)
	}

	out, err = runCLI(t, db, "--format", "json", "report", mutationID,
		"--success", "--detail", "applied", "--log", "created new.go")
	if err != nil {
		t.Fatalf("report: %v\n%s", err, out)
	}
	resp = decodeResponse(t, out)
	if got := resp.Data.(map[string]any)["status"]; got != "completed" {
		t.Fatalf("status = %v, want completed", got)
	}

	// Queue is drained.
	out, err = runCLI(t, db, "--format", "json", "claim")
	if err != nil {
		t.Fatalf("second claim: %v\n%s", err, out)
	}
	resp = decodeResponse(t, out)
	if resp.Data.(map[string]any)["claimed"] != false {
		t.Fatal("expected empty queue")
	}
}

func TestReportRequiresExactlyOneOutcome(t *testing.T) {
	db := testStorePath(t)

	_, err := runCLI(t, db, "--format", "json", "report", "any-id",
		"--success", "--failure")
	if err == nil {
		t.Fatal("expected error when both outcome flags are set")
	}
	if code := GetExitCode(err); code != ExitCommandError {
		t.Fatalf("exit code = %d, want %d", code, ExitCommandError)
	}
}

func TestWatchOnceDrainsLog(t *testing.T) {
	db := testStorePath(t)

	if _, err := runCLI(t, db, "submit",
		"--project", "proj-1", "--op", "create",
		"--changes", `{"k":"v"}`, "--auto-approve", "--by", "alice"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	out, err := runCLI(t, db, "--format", "text", "watch", "--once")
	if err != nil {
		t.Fatalf("watch: %v\n%s", err, out)
	}
	if !strings.Contains(out, "queued") {
		t.Fatalf("watch output missing queued event:\n%s", out)
	}
}
