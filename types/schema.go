package types

// FieldType is the declared type of a model input or output field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldAny     FieldType = "any"
)

// Field describes one model input or output.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
}

// Schema describes what a loaded model consumes and produces.
// GroupField, when set, names the field by which raw requests are aggregated before evaluation.
type Schema struct {
	Kind       string  `json:"kind"`
	Summary    string  `json:"summary,omitempty"`
	Inputs     []Field `json:"inputs"`
	Outputs    []Field `json:"outputs"`
	GroupField string  `json:"group_field,omitempty"`
}

// Input returns the declared input field by name.
func (s Schema) Input(name string) (Field, bool) {
	for _, f := range s.Inputs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
