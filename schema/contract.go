// Package schema implements field-set contracts exchanged between
// plugins on an edge: fixed, free, observed, and dynamic modes, and the
// compatibility check construction runs against every edge.
package schema

import "fmt"

// Mode selects how a contract constrains the fields flowing across it.
type Mode string

const (
	// ModeFixed requires an exact field list with exact types; extra
	// fields are forbidden unless explicitly allowed.
	ModeFixed Mode = "fixed"
	// ModeFree requires the declared fields to be present but allows
	// extra fields.
	ModeFree Mode = "free"
	// ModeObserved is pinned from an upstream producer at construction
	// time; downstream consumers inherit it unchanged.
	ModeObserved Mode = "observed"
	// ModeDynamic imposes no constraint; it is compatible with anything.
	ModeDynamic Mode = "dynamic"
)

// FieldType is the type tag a field carries in a contract.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeAny    FieldType = "any"
)

// Field describes one declared field of a contract.
type Field struct {
	Name     string
	Type     FieldType
	Optional bool
	// Union lists alternative acceptable types; a value matches if any
	// variant (including Type) accepts it.
	Union []FieldType
}

// Contract is the field set that passes between plugins on an edge.
type Contract struct {
	Mode Mode
	// Fields is the declared field set. Unused when Mode is ModeDynamic.
	Fields []Field
	// AllowExtra permits fields beyond Fields even under ModeFixed.
	AllowExtra bool
	// Strict disables numeric coercion (int->float) when checking
	// compatibility against a producer contract.
	Strict bool
	// RequiredInputFields lists the fields a template with row
	// references actually reads. An explicitly empty (non-nil) slice is
	// a deliberate opt-out, distinguished from "not set" (nil).
	RequiredInputFields []string
}

func (c Contract) fieldByName(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// TypeMismatch records a field whose producer and consumer types disagree.
type TypeMismatch struct {
	Field    string
	Expected FieldType
	Actual   FieldType
}

// CompatibilityResult is the outcome of checking a consumer contract
// against a producer contract.
type CompatibilityResult struct {
	Compatible     bool
	MissingFields  []string
	TypeMismatches []TypeMismatch
	ExtraFields    []string
}

func ok() CompatibilityResult { return CompatibilityResult{Compatible: true} }

// CompatibleWith checks whether producer (this contract, the upstream
// output) satisfies consumer's requirements.
//
// Any accepts any producer type. Union types accept a value if any
// variant accepts it. Numeric coercion (int->float) is permitted unless
// consumer.Strict is set. dynamic is compatible with anything in either
// direction.
func (producer Contract) CompatibleWith(consumer Contract) CompatibilityResult {
	if consumer.Mode == ModeDynamic || producer.Mode == ModeDynamic {
		return ok()
	}
	if consumer.Mode == ModeObserved {
		// An observed contract is pinned from its producer; by
		// definition it is compatible with the producer that pinned it.
		return ok()
	}

	result := CompatibilityResult{Compatible: true}

	for _, want := range consumer.Fields {
		have, present := producer.fieldByName(want.Name)
		if !present {
			if want.Optional {
				continue
			}
			result.MissingFields = append(result.MissingFields, want.Name)
			result.Compatible = false
			continue
		}
		if !typeCompatible(have.Type, want.Type, consumer.Strict) &&
			!unionCompatible(have, want, consumer.Strict) {
			result.TypeMismatches = append(result.TypeMismatches, TypeMismatch{
				Field:    want.Name,
				Expected: want.Type,
				Actual:   have.Type,
			})
			result.Compatible = false
		}
	}

	if consumer.Mode == ModeFixed && !consumer.AllowExtra {
		wanted := make(map[string]bool, len(consumer.Fields))
		for _, f := range consumer.Fields {
			wanted[f.Name] = true
		}
		for _, have := range producer.Fields {
			if !wanted[have.Name] {
				result.ExtraFields = append(result.ExtraFields, have.Name)
				result.Compatible = false
			}
		}
	}

	return result
}

func typeCompatible(have, want FieldType, strict bool) bool {
	if want == TypeAny || have == TypeAny {
		return true
	}
	if have == want {
		return true
	}
	if !strict && have == TypeInt && want == TypeFloat {
		return true
	}
	return false
}

func unionCompatible(have, want Field, strict bool) bool {
	for _, v := range want.Union {
		if typeCompatible(have.Type, v, strict) {
			return true
		}
	}
	for _, v := range have.Union {
		if typeCompatible(v, want.Type, strict) {
			return true
		}
	}
	return false
}

// Validate checks a contract's own shape, independent of any producer:
// RequiredInputFields (when non-nil) must name only declared fields
// unless the contract allows extras or is free/dynamic.
func (c Contract) Validate() error {
	if c.RequiredInputFields == nil {
		return nil
	}
	if c.Mode == ModeDynamic || c.Mode == ModeFree || c.AllowExtra {
		return nil
	}
	for _, name := range c.RequiredInputFields {
		if _, ok := c.fieldByName(name); !ok {
			return fmt.Errorf("schema: required_input_fields references undeclared field %q", name)
		}
	}
	return nil
}
