package domain

import (
	"fmt"
	"strings"
)

// FieldDrawingNumber is shared by every schema and mirrors into ProcessingRecord.DrawingNumber.
const FieldDrawingNumber = "DRAWING NUMBER"

// Field is one schema entry with the unit the model must normalize into.
type Field struct {
	Name string
	Unit string // "" when the value is free text
	Hint string // optional guidance, e.g. "[Determine and Extract]"
}

// Profile binds a component type to its field schema and extraction prompt.
// There is exactly one profile per extractable component type.
type Profile struct {
	Type   ComponentType
	Fields []Field
	Rules  []string // type-specific rules appended after the shared ones
}

// Schema returns the ordered field names.
func (p Profile) Schema() FieldSchema {
	out := make(FieldSchema, len(p.Fields))
	for i, f := range p.Fields {
		out[i] = f.Name
	}
	return out
}

// Prompt renders the extraction instruction for this profile.
func (p Profile) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this %s engineering drawing and extract only the values that are clearly visible in the image.\n", strings.ToLower(string(p.Type)))
	b.WriteString("STRICT RULES:\n")
	rules := append([]string{
		"If a value is missing or unclear, return an empty string. DO NOT estimate any values.",
		"Convert values to the specified units where applicable.",
	}, p.Rules...)
	n := 1
	for _, r := range rules {
		fmt.Fprintf(&b, "%d) %s\n", n, r)
		n++
	}
	fmt.Fprintf(&b, "%d) Return exactly one line per field, in this order and format, and nothing else:\n", n)
	for _, f := range p.Fields {
		b.WriteString(f.Name)
		b.WriteString(":")
		switch {
		case f.Hint != "":
			b.WriteString(" " + f.Hint)
		case f.Unit != "":
			b.WriteString(" [value] " + f.Unit)
		default:
			b.WriteString(" [value]")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

var profiles = map[ComponentType]Profile{
	ComponentCylinder: {
		Type: ComponentCylinder,
		Fields: []Field{
			{Name: "CYLINDER ACTION"},
			{Name: "BORE DIAMETER", Unit: "MM"},
			{Name: "OUTSIDE DIAMETER", Unit: "MM"},
			{Name: "ROD DIAMETER", Unit: "MM"},
			{Name: "STROKE LENGTH", Unit: "MM"},
			{Name: "CLOSE LENGTH", Unit: "MM"},
			{Name: "OPEN LENGTH", Unit: "MM"},
			{Name: "OPERATING PRESSURE", Unit: "BAR"},
			{Name: "OPERATING TEMPERATURE", Unit: "DEG C"},
			{Name: "MOUNTING"},
			{Name: "ROD END"},
			{Name: "FLUID", Hint: "[Determine and Extract]"},
			{Name: FieldDrawingNumber, Hint: "[Extract from Image]"},
		},
		Rules: []string{
			"Determine whether the cylinder is SINGLE-ACTION or DOUBLE-ACTION and set it under CYLINDER ACTION.",
		},
	},
	ComponentValve: {
		Type: ComponentValve,
		Fields: []Field{
			{Name: "VALVE TYPE"},
			{Name: "NOMINAL SIZE", Unit: "MM"},
			{Name: "PRESSURE RATING", Unit: "BAR"},
			{Name: "BODY MATERIAL"},
			{Name: "SEAT MATERIAL"},
			{Name: "END CONNECTION"},
			{Name: "OPERATING PRESSURE", Unit: "BAR"},
			{Name: "OPERATING TEMPERATURE", Unit: "DEG C"},
			{Name: "ACTUATION"},
			{Name: "FLUID", Hint: "[Determine and Extract]"},
			{Name: FieldDrawingNumber, Hint: "[Extract from Image]"},
		},
		Rules: []string{
			"Identify the valve type (e.g. GATE, GLOBE, BALL, BUTTERFLY, CHECK) and set it under VALVE TYPE.",
		},
	},
	ComponentGearbox: {
		Type: ComponentGearbox,
		Fields: []Field{
			{Name: "GEARBOX TYPE"},
			{Name: "GEAR RATIO"},
			{Name: "INPUT SPEED", Unit: "RPM"},
			{Name: "OUTPUT SPEED", Unit: "RPM"},
			{Name: "INPUT POWER", Unit: "KW"},
			{Name: "OUTPUT TORQUE", Unit: "NM"},
			{Name: "MOUNTING"},
			{Name: "SHAFT ARRANGEMENT"},
			{Name: "LUBRICATION"},
			{Name: "WEIGHT", Unit: "KG"},
			{Name: FieldDrawingNumber, Hint: "[Extract from Image]"},
		},
		Rules: []string{
			"Write GEAR RATIO as it appears on the drawing, e.g. 10:1.",
		},
	},
}

// ProfileFor returns the profile for t. UNKNOWN (or anything else) has none.
func ProfileFor(t ComponentType) (Profile, bool) {
	p, ok := profiles[t]
	return p, ok
}
