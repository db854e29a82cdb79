package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// Document is a resume tree: nested map[string]any, []any and scalar values.
// Apply never modifies a Document it is given.
type Document map[string]any

// errNoop aborts a traversal that turned out to have nothing to do.
var errNoop = errors.New("noop")

// Apply returns a new document with op applied to doc. Only the containers on
// the path to the edited location are copied; other branches are shared with
// doc.
func Apply(doc Document, op Operation) (Document, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	path, err := ParsePath(op.Path)
	if err != nil {
		return nil, err
	}

	a := &applier{op: op, path: path}
	var root any = map[string]any(doc)
	if doc == nil {
		root = map[string]any{}
	}
	out, err := a.descend(root, 0)
	if errors.Is(err, errNoop) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, newError(CodeTypeMismatch, op.Path, "document root must be a map")
	}
	return Document(m), nil
}

// Get resolves path in doc. The second result is false when the location does
// not exist.
func Get(doc Document, rawPath string) (any, bool, error) {
	path, err := ParsePath(rawPath)
	if err != nil {
		return nil, false, err
	}
	var node any = map[string]any(doc)
	for _, tok := range path {
		child, ok, err := lookup(node, tok)
		if err != nil || !ok {
			return nil, false, nil
		}
		node = child
	}
	return node, true, nil
}

type applier struct {
	op   Operation
	path Path
}

// writeThrough reports whether missing containers are created on the way.
func (a *applier) writeThrough() bool {
	return a.op.Kind == KindAppend
}

func (a *applier) at(depth int) string {
	return a.path[:depth+1].String()
}

func (a *applier) descend(node any, depth int) (any, error) {
	tok := a.path[depth]
	if depth == len(a.path)-1 {
		return a.terminal(node, tok, depth)
	}

	child, exists, err := lookup(node, tok)
	if err != nil {
		if a.op.Kind == KindRemove {
			return nil, errNoop
		}
		return nil, newError(CodeTypeMismatch, a.at(depth), "%s", err)
	}
	if !exists {
		switch {
		case a.writeThrough():
			child = nil
		case a.op.Kind == KindRemove:
			return nil, errNoop
		case tok.Kind == IndexToken && isSequence(node):
			return nil, newError(CodeIndexOutOfRange, a.at(depth), "index %d out of range", tok.Index)
		default:
			return nil, newError(CodePathNotFound, a.at(depth), "no container at this path")
		}
	}

	updated, err := a.descend(child, depth+1)
	if err != nil {
		return nil, err
	}
	return a.set(node, tok, depth, func(any, bool) (any, error) { return updated, nil })
}

func (a *applier) terminal(parent any, tok Token, depth int) (any, error) {
	value := a.op.Value
	switch a.op.Kind {
	case KindReplace:
		return a.set(parent, tok, depth, func(any, bool) (any, error) { return value, nil })

	case KindPrefix, KindSuffix:
		add, ok := value.(string)
		if !ok {
			return nil, newError(CodeTypeMismatch, a.at(depth), "%s value must be a string, got %s", a.op.Kind, typeName(value))
		}
		return a.set(parent, tok, depth, func(cur any, exists bool) (any, error) {
			if !exists || cur == nil {
				return add, nil
			}
			s, ok := cur.(string)
			if !ok {
				return nil, newError(CodeTypeMismatch, a.at(depth), "cannot %s %s", a.op.Kind, typeName(cur))
			}
			if a.op.Kind == KindPrefix {
				return add + s, nil
			}
			return s + add, nil
		})

	case KindAppend:
		return a.set(parent, tok, depth, func(cur any, exists bool) (any, error) {
			if !exists || cur == nil {
				return []any{value}, nil
			}
			seq, ok := asSequence(cur)
			if !ok {
				return nil, newError(CodeTypeMismatch, a.at(depth), "cannot append to %s", typeName(cur))
			}
			out := make([]any, len(seq), len(seq)+1)
			copy(out, seq)
			return append(out, value), nil
		})

	case KindInsert:
		if tok.Kind != IndexToken {
			target, _, _ := lookup(parent, tok)
			if target != nil && !isSequence(target) {
				return nil, newError(CodeTypeMismatch, a.op.Path, "cannot insert into %s", typeName(target))
			}
			return nil, newError(CodeInvalidOperation, a.op.Path, "insert path must end with an index")
		}
		if parent == nil {
			return nil, newError(CodePathNotFound, a.op.Path, "no sequence at this path")
		}
		seq, ok := asSequence(parent)
		if !ok {
			return nil, newError(CodeTypeMismatch, a.op.Path, "cannot insert into %s", typeName(parent))
		}
		if tok.Index > len(seq) {
			return nil, newError(CodeIndexOutOfRange, a.op.Path, "index %d outside [0, %d]", tok.Index, len(seq))
		}
		return slices.Insert(slices.Clone(seq), tok.Index, value), nil

	case KindRemove:
		return remove(parent, tok)
	}
	return nil, newError(CodeInvalidOperation, a.op.Path, "unknown kind %q", a.op.Kind)
}

// set rebuilds container with the location named by tok replaced by fn's result.
func (a *applier) set(container any, tok Token, depth int, fn func(cur any, exists bool) (any, error)) (any, error) {
	if container == nil {
		if !a.writeThrough() {
			return nil, newError(CodePathNotFound, a.at(depth), "no container at this path")
		}
		v, err := fn(nil, false)
		if err != nil {
			return nil, err
		}
		if tok.Kind == KeyToken {
			return map[string]any{tok.Key: v}, nil
		}
		if tok.Index != 0 {
			return nil, newError(CodeIndexOutOfRange, a.at(depth), "index %d out of range for new sequence", tok.Index)
		}
		return []any{v}, nil
	}

	switch tok.Kind {
	case KeyToken:
		m, ok := asMap(container)
		if !ok {
			return nil, newError(CodeTypeMismatch, a.at(depth), "cannot address %s with key %q", typeName(container), tok.Key)
		}
		cur, exists := m[tok.Key]
		v, err := fn(cur, exists)
		if err != nil {
			return nil, err
		}
		out := maps.Clone(m)
		if out == nil {
			out = map[string]any{}
		}
		out[tok.Key] = v
		return out, nil

	default:
		seq, ok := asSequence(container)
		if !ok {
			return nil, newError(CodeTypeMismatch, a.at(depth), "cannot address %s with index %d", typeName(container), tok.Index)
		}
		if tok.Index < len(seq) {
			v, err := fn(seq[tok.Index], true)
			if err != nil {
				return nil, err
			}
			out := slices.Clone(seq)
			out[tok.Index] = v
			return out, nil
		}
		if tok.Index == len(seq) && a.writeThrough() {
			v, err := fn(nil, false)
			if err != nil {
				return nil, err
			}
			out := make([]any, len(seq), len(seq)+1)
			copy(out, seq)
			return append(out, v), nil
		}
		return nil, newError(CodeIndexOutOfRange, a.at(depth), "index %d out of range (length %d)", tok.Index, len(seq))
	}
}

func remove(container any, tok Token) (any, error) {
	switch tok.Kind {
	case KeyToken:
		m, ok := asMap(container)
		if !ok {
			return nil, errNoop
		}
		if _, exists := m[tok.Key]; !exists {
			return nil, errNoop
		}
		out := maps.Clone(m)
		delete(out, tok.Key)
		return out, nil
	default:
		seq, ok := asSequence(container)
		if !ok || tok.Index >= len(seq) {
			return nil, errNoop
		}
		return slices.Delete(slices.Clone(seq), tok.Index, tok.Index+1), nil
	}
}

func lookup(node any, tok Token) (any, bool, error) {
	if node == nil {
		return nil, false, nil
	}
	if tok.Kind == KeyToken {
		m, ok := asMap(node)
		if !ok {
			return nil, false, fmt.Errorf("cannot address %s with key %q", typeName(node), tok.Key)
		}
		v, exists := m[tok.Key]
		return v, exists, nil
	}
	seq, ok := asSequence(node)
	if !ok {
		return nil, false, fmt.Errorf("cannot address %s with index %d", typeName(node), tok.Index)
	}
	if tok.Index >= len(seq) {
		return nil, false, nil
	}
	return seq[tok.Index], true, nil
}

func isSequence(v any) bool {
	_, ok := asSequence(v)
	return ok
}

// asMap accepts map[string]any and other string-keyed maps callers may build
// in Go; the latter are converted to a fresh map[string]any.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return map[string]any(m), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// asSequence accepts []any and other slice types ([]string etc.); []byte is a scalar.
func asSequence(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	}
	if _, ok := asMap(v); ok {
		return "map"
	}
	if _, ok := asSequence(v); ok {
		return "sequence"
	}
	return fmt.Sprintf("%T", v)
}
