package config

import (
	"testing"

	"github.com/dshills/corepipe/dag"
)

const sampleDoc = `
source:
  plugin: csv_reader
  on_success: rows
  options:
    path: input.csv
  schema:
    - name: id
      type: int
    - name: name
      type: string

transforms:
  - name: field_mapper
    plugin: rename
    input: rows
    on_success: mapped
    on_error: errors
    options:
      from: name
      to: full_name

gates:
  - name: score_gate
    input: mapped
    condition: "row['score'] > 50"
    routes:
      "true": high
      "false": low

sinks:
  output:
    plugin: csv_writer
    options:
      path: out.csv
  errors:
    plugin: csv_writer
    options:
      path: errors.csv

default_sink: output
`

func TestParseProducesExpectedConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Source.Plugin != "csv_reader" {
		t.Errorf("source plugin = %q, want csv_reader", cfg.Source.Plugin)
	}
	if len(cfg.Source.Schema) != 2 {
		t.Fatalf("source schema len = %d, want 2", len(cfg.Source.Schema))
	}
	if cfg.Source.Schema[1].Name != "name" || cfg.Source.Schema[1].Type != "string" {
		t.Errorf("source schema[1] = %+v, want name/string", cfg.Source.Schema[1])
	}

	if len(cfg.Transforms) != 1 || cfg.Transforms[0].OnError != "errors" {
		t.Fatalf("transforms = %+v", cfg.Transforms)
	}

	if len(cfg.Gates) != 1 || cfg.Gates[0].Routes["true"] != "high" {
		t.Fatalf("gates = %+v", cfg.Gates)
	}

	if len(cfg.Sinks) != 2 {
		t.Fatalf("sinks len = %d, want 2", len(cfg.Sinks))
	}
	if cfg.DefaultSink != "output" {
		t.Errorf("default_sink = %q, want output", cfg.DefaultSink)
	}
}

func TestParseRejectsMissingSourcePlugin(t *testing.T) {
	_, err := Parse([]byte("source:\n  on_success: rows\n"))
	if err == nil {
		t.Fatal("expected error for missing source.plugin")
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("source: [this is not a mapping"))
	if err == nil {
		t.Fatal("expected yaml parse error")
	}
}

// TestParseFeedsConstruct verifies the loader output is actually
// consumable by dag.Construct, catching field-shape drift between the
// two packages.
func TestParseFeedsConstruct(t *testing.T) {
	doc := `
source:
  plugin: csv_reader
  on_success: output

sinks:
  output:
    plugin: csv_writer
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := dag.Construct(cfg); err != nil {
		t.Fatalf("dag.Construct: %v", err)
	}
}
