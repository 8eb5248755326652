package obslog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInitJSONOutputProducesParsableLines(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("orchestrator").Info().Str("run_id", "run-1").Msg("run started")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v (raw: %s)", err, buf.String())
	}
	if line["component"] != "orchestrator" {
		t.Errorf("component = %v, want orchestrator", line["component"])
	}
	if line["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", line["run_id"])
	}
	if line["message"] != "run started" {
		t.Errorf("message = %v, want 'run started'", line["message"])
	}
}

func TestInitWarnLevelSuppressesDebugLines(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Debug().Msg("should be suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected no output at warn level for a debug line, got %q", buf.String())
	}

	Logger.Warn().Msg("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected warn line to appear, got %q", buf.String())
	}
}

func TestWithRunAndWithNodeScopeFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	WithNode("run-1", "node-2").Info().Msg("node visited")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["run_id"] != "run-1" || line["node_id"] != "node-2" {
		t.Errorf("line = %v, want run_id=run-1 node_id=node-2", line)
	}
}
