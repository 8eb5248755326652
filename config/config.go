// Package config loads a pipeline's declarative YAML document into the
// dag.Config construction input. It has no opinion about what plugins a
// node name resolves to; it only shapes and validates the document.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dshills/corepipe/dag"
)

// document mirrors the on-disk shape. Field names use yaml tags rather
// than relying on case-insensitive default matching, since several keys
// (on_success, output_mode, quorum_count) are snake_case by convention.
type document struct {
	Source       sourceDoc          `yaml:"source"`
	Transforms   []transformDoc     `yaml:"transforms"`
	Gates        []gateDoc          `yaml:"gates"`
	Aggregations []aggregationDoc   `yaml:"aggregations"`
	Coalesce     []coalesceDoc      `yaml:"coalesce"`
	Sinks        map[string]sinkDoc `yaml:"sinks"`
	DefaultSink  string             `yaml:"default_sink"`
}

type fieldDoc struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional"`
}

type sourceDoc struct {
	Plugin    string                 `yaml:"plugin"`
	Options   map[string]interface{} `yaml:"options"`
	OnSuccess string                 `yaml:"on_success"`
	Schema    []fieldDoc             `yaml:"schema"`
}

type transformDoc struct {
	Name      string                 `yaml:"name"`
	Plugin    string                 `yaml:"plugin"`
	Input     string                 `yaml:"input"`
	OnSuccess string                 `yaml:"on_success"`
	OnError   string                 `yaml:"on_error"`
	Options   map[string]interface{} `yaml:"options"`
	Schema    []fieldDoc             `yaml:"schema"`
}

type gateDoc struct {
	Name      string            `yaml:"name"`
	Input     string            `yaml:"input"`
	Condition string            `yaml:"condition"`
	Routes    map[string]string `yaml:"routes"`
}

type triggerDoc struct {
	Count          int     `yaml:"count"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	Condition      string  `yaml:"condition"`
}

type aggregationDoc struct {
	Name       string                 `yaml:"name"`
	Plugin     string                 `yaml:"plugin"`
	Input      string                 `yaml:"input"`
	OnSuccess  string                 `yaml:"on_success"`
	Trigger    triggerDoc             `yaml:"trigger"`
	OutputMode string                 `yaml:"output_mode"`
	Options    map[string]interface{} `yaml:"options"`
}

type coalesceDoc struct {
	Name           string   `yaml:"name"`
	Branches       []string `yaml:"branches"`
	Policy         string   `yaml:"policy"`
	QuorumCount    int      `yaml:"quorum_count"`
	TimeoutSeconds float64  `yaml:"timeout_seconds"`
	Merge          string   `yaml:"merge"`
	OnSuccess      string   `yaml:"on_success"`
}

type sinkDoc struct {
	Plugin  string                 `yaml:"plugin"`
	Options map[string]interface{} `yaml:"options"`
}

// Load reads and parses the pipeline document at path into a dag.Config.
// It performs only structural/YAML-level validation; connection wiring,
// schema compatibility, and naming collisions are dag.Construct's job.
func Load(path string) (dag.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dag.Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a pipeline document already in memory.
func Parse(data []byte) (dag.Config, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return dag.Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	if doc.Source.Plugin == "" {
		return dag.Config{}, fmt.Errorf("config: source.plugin is required")
	}

	cfg := dag.Config{
		Source: dag.SourceSpec{
			Plugin:    doc.Source.Plugin,
			Options:   doc.Source.Options,
			OnSuccess: doc.Source.OnSuccess,
			Schema:    toFieldSpecs(doc.Source.Schema),
		},
		DefaultSink: doc.DefaultSink,
	}

	for _, t := range doc.Transforms {
		cfg.Transforms = append(cfg.Transforms, dag.TransformSpec{
			Name:      t.Name,
			Plugin:    t.Plugin,
			Input:     t.Input,
			OnSuccess: t.OnSuccess,
			OnError:   t.OnError,
			Options:   t.Options,
			Schema:    toFieldSpecs(t.Schema),
		})
	}

	for _, g := range doc.Gates {
		cfg.Gates = append(cfg.Gates, dag.GateSpec{
			Name:      g.Name,
			Input:     g.Input,
			Condition: g.Condition,
			Routes:    g.Routes,
		})
	}

	for _, a := range doc.Aggregations {
		cfg.Aggregations = append(cfg.Aggregations, dag.AggregationSpec{
			Name:      a.Name,
			Plugin:    a.Plugin,
			Input:     a.Input,
			OnSuccess: a.OnSuccess,
			Trigger: dag.TriggerSpec{
				Count:          a.Trigger.Count,
				TimeoutSeconds: a.Trigger.TimeoutSeconds,
				Condition:      a.Trigger.Condition,
			},
			OutputMode: a.OutputMode,
			Options:    a.Options,
		})
	}

	for _, c := range doc.Coalesce {
		cfg.Coalesce = append(cfg.Coalesce, dag.CoalesceSpec{
			Name:           c.Name,
			Branches:       c.Branches,
			Policy:         c.Policy,
			QuorumCount:    c.QuorumCount,
			TimeoutSeconds: c.TimeoutSeconds,
			Merge:          c.Merge,
			OnSuccess:      c.OnSuccess,
		})
	}

	if len(doc.Sinks) > 0 {
		cfg.Sinks = make(map[string]dag.SinkSpec, len(doc.Sinks))
		for name, s := range doc.Sinks {
			cfg.Sinks[name] = dag.SinkSpec{Plugin: s.Plugin, Options: s.Options}
		}
	}

	return cfg, nil
}

func toFieldSpecs(fields []fieldDoc) []dag.FieldSpec {
	if len(fields) == 0 {
		return nil
	}
	out := make([]dag.FieldSpec, len(fields))
	for i, f := range fields {
		out[i] = dag.FieldSpec{Name: f.Name, Type: f.Type, Optional: f.Optional}
	}
	return out
}
