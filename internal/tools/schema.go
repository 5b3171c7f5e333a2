package tools

import (
	"fmt"
	"math"
	"strings"

	"github.com/agentcheck/agentcheck/internal/core"
)

// ParamType is a JSON Schema primitive type.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param declares one named tool argument.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	// Items is the element type for arrays; ItemEnum restricts string elements.
	Items    ParamType
	ItemEnum []string
	Minimum  *float64
	Maximum  *float64
}

// Definition is the immutable description of a tool: name, description and input schema.
type Definition struct {
	Name        string
	Description string
	Params      []Param
}

// Bound returns a pointer to v, for Param.Minimum and Param.Maximum.
func Bound(v float64) *float64 { return &v }

// Schema renders the parameters as a JSON Schema object.
func (d Definition) Schema() map[string]interface{} {
	props := map[string]interface{}{}
	required := []string{}
	for _, p := range d.Params {
		prop := map[string]interface{}{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == TypeArray {
			items := map[string]interface{}{"type": string(TypeString)}
			if p.Items != "" {
				items["type"] = string(p.Items)
			}
			if len(p.ItemEnum) > 0 {
				items["enum"] = p.ItemEnum
			}
			prop["items"] = items
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ToolDefinition converts d into the function-tool shape sent to the model.
func (d Definition) ToolDefinition() core.ToolDefinition {
	return core.ToolDefinition{
		Type: "function",
		Function: core.FunctionSpec{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema(),
		},
	}
}

// Validate checks args against the declared parameters in order and stops at
// the first missing required field or type mismatch. Undeclared keys are ignored.
func (d Definition) Validate(args Args) error {
	for _, p := range d.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return d.invalid(p.Name, "is required")
			}
			continue
		}
		if reason := p.check(v); reason != "" {
			return d.invalid(p.Name, reason)
		}
	}
	return nil
}

func (d Definition) invalid(field, reason string) *InvalidArgumentsError {
	return &InvalidArgumentsError{Tool: d.Name, Field: field, Reason: reason}
}

func (p Param) check(v any) string {
	switch p.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return mismatch(p.Type, v)
		}
		if p.Required && strings.TrimSpace(s) == "" {
			return "must not be empty"
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return fmt.Sprintf("value %q is not one of [%s]", s, strings.Join(p.Enum, ", "))
		}
	case TypeNumber, TypeInteger:
		f, ok := v.(float64)
		if !ok {
			return mismatch(p.Type, v)
		}
		if p.Type == TypeInteger && f != math.Trunc(f) {
			return fmt.Sprintf("expected integer, got %v", f)
		}
		if p.Minimum != nil && f < *p.Minimum {
			return fmt.Sprintf("value %v is below minimum %v", f, *p.Minimum)
		}
		if p.Maximum != nil && f > *p.Maximum {
			return fmt.Sprintf("value %v is above maximum %v", f, *p.Maximum)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return mismatch(p.Type, v)
		}
	case TypeArray:
		items, ok := v.([]any)
		if !ok {
			return mismatch(p.Type, v)
		}
		elem := Param{Type: p.Items, Enum: p.ItemEnum}
		if elem.Type == "" {
			elem.Type = TypeString
		}
		for i, item := range items {
			if reason := elem.check(item); reason != "" {
				return fmt.Sprintf("item %d %s", i, reason)
			}
		}
	case TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return mismatch(p.Type, v)
		}
	}
	return ""
}

func mismatch(want ParamType, got any) string {
	return fmt.Sprintf("expected %s, got %s", want, jsonKind(got))
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
