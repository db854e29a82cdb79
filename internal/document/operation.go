package document

// Kind is the type of a modification operation.
type Kind string

const (
	KindReplace Kind = "replace"
	KindPrefix  Kind = "prefix"
	KindSuffix  Kind = "suffix"
	KindAppend  Kind = "append"
	KindInsert  Kind = "insert"
	KindRemove  Kind = "remove"
)

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindReplace, KindPrefix, KindSuffix, KindAppend, KindInsert, KindRemove:
		return true
	}
	return false
}

func (k Kind) requiresValue() bool {
	return k != KindRemove
}

// Operation is one structured edit produced by the intent source. It is
// consumed once by Apply and never persisted directly.
type Operation struct {
	Kind  Kind   `json:"kind"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
	// HasValue marks an explicit null Value as present.
	HasValue bool `json:"-"`
}

func (o Operation) hasValue() bool {
	return o.HasValue || o.Value != nil
}

// Validate checks the operation shape without touching any document.
func (o Operation) Validate() error {
	if o.Kind == "" {
		return newError(CodeInvalidOperation, o.Path, "kind is required")
	}
	if o.Path == "" {
		return newError(CodeInvalidOperation, "", "path is required")
	}
	if !o.Kind.Valid() {
		return newError(CodeInvalidOperation, o.Path, "unknown kind %q", o.Kind)
	}
	if o.Kind.requiresValue() && !o.hasValue() {
		return newError(CodeMissingValue, o.Path, "%s requires a value", o.Kind)
	}
	return nil
}

func Replace(path string, value any) Operation {
	return Operation{Kind: KindReplace, Path: path, Value: value, HasValue: true}
}

func Prefix(path string, value string) Operation {
	return Operation{Kind: KindPrefix, Path: path, Value: value, HasValue: true}
}

func Suffix(path string, value string) Operation {
	return Operation{Kind: KindSuffix, Path: path, Value: value, HasValue: true}
}

func Append(path string, value any) Operation {
	return Operation{Kind: KindAppend, Path: path, Value: value, HasValue: true}
}

// Insert places value at the index named by the trailing token of path.
func Insert(path string, value any) Operation {
	return Operation{Kind: KindInsert, Path: path, Value: value, HasValue: true}
}

func Remove(path string) Operation {
	return Operation{Kind: KindRemove, Path: path}
}
