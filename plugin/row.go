// Package plugin defines the protocols the engine uses to talk to
// external sources, transforms, gates, and sinks. The engine never
// imports a plugin's implementation package; it only ever holds one of
// these interfaces, resolved by the dag navigator and bound by whatever
// wiring layer registers plugin constructors.
package plugin

import "github.com/dshills/corepipe/schema"

// PipelineRow is a single row of data together with the contract it was
// validated against. The contract travels with the row so a downstream
// plugin can inspect the field set it is guaranteed without re-deriving
// it from the DAG.
type PipelineRow struct {
	Data     map[string]interface{}
	Contract schema.Contract
}

// Clone returns a row with a deep copy of Data; Contract is immutable
// and shared by reference.
func (r PipelineRow) Clone() PipelineRow {
	var copyValue func(v interface{}) interface{}
	copyValue = func(v interface{}) interface{} {
		switch t := v.(type) {
		case map[string]interface{}:
			m := make(map[string]interface{}, len(t))
			for k, e := range t {
				m[k] = copyValue(e)
			}
			return m
		case []interface{}:
			s := make([]interface{}, len(t))
			for i, e := range t {
				s[i] = copyValue(e)
			}
			return s
		default:
			return v
		}
	}
	data := copyValue(r.Data).(map[string]interface{})
	return PipelineRow{Data: data, Contract: r.Contract}
}

// SourceRow is what a Source yields for each item it reads: either a
// valid row carrying a locked contract, or a quarantined row carrying
// the offending raw data and the reason it was rejected.
type SourceRow struct {
	Valid bool

	Row PipelineRow

	RawData          map[string]interface{}
	QuarantineReason string
}
