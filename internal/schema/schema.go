// Package schema describes strategy configuration forms.
//
// A strategy exposes a tree of controls; the host renders the tree as a
// JSON document for whatever front end configures the strategy. Control
// visibility can depend on the values of other controls through show_if /
// hide_if rules.
package schema

import "encoding/json"

// Rule references another control by name; the rule matches when that
// control's value is one of Values (any value when Values is empty).
type Rule struct {
	Variable string   `json:"variable"`
	Values   []string `json:"values,omitempty"`
}

// Options are the common per-control attributes.
type Options struct {
	ReadOnly bool   `json:"read_only,omitempty"`
	ShowIf   []Rule `json:"show_if,omitempty"`
	HideIf   []Rule `json:"hide_if,omitempty"`
}

// Range constrains numeric controls.
type Range struct {
	Min       float64 `json:"min,omitempty"`
	Max       float64 `json:"max,omitempty"`
	Step      float64 `json:"step,omitempty"`
	ExpandMin bool    `json:"expand_min,omitempty"`
	ExpandMax bool    `json:"expand_max,omitempty"`
	LogScale  bool    `json:"log_scale,omitempty"`
}

// Control is one node of the form tree. The concrete kind is carried in the
// rendered "type" field.
type Control struct {
	typ      string
	name     string
	opts     Options
	fields   map[string]any
	children []Control
}

// WithOptions returns a copy of the control with visibility options set.
func (c Control) WithOptions(opts Options) Control {
	c.opts = opts
	return c
}

// MarshalJSON renders the control with its kind under "type" and child
// controls under "controls".
func (c Control) MarshalJSON() ([]byte, error) {
	doc := map[string]any{"type": c.typ}
	if c.name != "" {
		doc["name"] = c.name
	}
	for k, v := range c.fields {
		doc[k] = v
	}
	if c.opts.ReadOnly {
		doc["read_only"] = true
	}
	if len(c.opts.ShowIf) > 0 {
		doc["show_if"] = c.opts.ShowIf
	}
	if len(c.opts.HideIf) > 0 {
		doc["hide_if"] = c.opts.HideIf
	}
	if c.children != nil {
		doc["controls"] = c.children
	}
	return json.Marshal(doc)
}

// Schema is the root of a strategy's configuration form.
type Schema struct {
	Controls []Control `json:"controls"`
}

// New builds a schema from top-level controls.
func New(controls ...Control) Schema {
	return Schema{Controls: controls}
}

// Render produces the JSON document handed to the front end.
func (s Schema) Render() ([]byte, error) {
	return json.Marshal(s)
}

// Text is a static text mark.
func Text(name string) Control {
	return Control{typ: "text", name: name}
}

// TextInput is a single-line text field.
func TextInput(name, defVal string, limit int) Control {
	return Control{typ: "text_input", name: name, fields: map[string]any{"default": defVal, "limit": limit}}
}

// TextArea is a multi-line text field.
func TextArea(name string, rows int, defVal string, limit int) Control {
	return Control{typ: "text_area", name: name, fields: map[string]any{"default": defVal, "limit": limit, "rows": rows}}
}

// Number is a numeric field with an optional range.
func Number(name string, defVal float64, r Range) Control {
	return Control{typ: "number", name: name, fields: map[string]any{"default": defVal, "range": r}}
}

// Slider is a numeric field rendered as a slider.
func Slider(name string, defVal float64, r Range) Control {
	return Control{typ: "slider", name: name, fields: map[string]any{"default": defVal, "range": r}}
}

// CheckBox is a boolean field.
func CheckBox(name string, defVal bool) Control {
	return Control{typ: "checkbox", name: name, fields: map[string]any{"default": defVal}}
}

// Choice is one selectable option: stored value plus display label.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Select is a single-choice field.
func Select(name string, choices []Choice, defVal string) Control {
	return Control{typ: "select", name: name, fields: map[string]any{"default": defVal, "choices": choices}}
}

// Date is a calendar date field.
func Date(name string, defVal string) Control {
	return Control{typ: "date", name: name, fields: map[string]any{"default": defVal}}
}

// Time is a time-of-day field.
func Time(name string, defVal string) Control {
	return Control{typ: "time", name: name, fields: map[string]any{"default": defVal}}
}

// TimeZoneSelect picks a timezone.
func TimeZoneSelect(name string) Control {
	return Control{typ: "timezone_select", name: name}
}

// Group is an unnamed or named grouping of controls.
func Group(name string, controls ...Control) Control {
	return Control{typ: "group", name: name, children: controls}
}

// Section is a collapsible named grouping.
func Section(name string, shown bool, controls ...Control) Control {
	return Control{typ: "section", name: name, fields: map[string]any{"shown": shown}, children: controls}
}

// Compound lays out controls on one line.
func Compound(controls ...Control) Control {
	return Control{typ: "compound", children: controls}
}
