package document

import (
	"strconv"
	"strings"
)

// TokenKind distinguishes map keys from sequence indices in a Path.
type TokenKind int

const (
	KeyToken TokenKind = iota
	IndexToken
)

// Token is one step of a Path.
type Token struct {
	Kind  TokenKind
	Key   string
	Index int
}

func (t Token) String() string {
	if t.Kind == IndexToken {
		return "[" + strconv.Itoa(t.Index) + "]"
	}
	return t.Key
}

// Path addresses one location in a Document, e.g. experience[0].achievements[2].
type Path []Token

func (p Path) String() string {
	var b strings.Builder
	for i, t := range p {
		if t.Kind == KeyToken && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(t.String())
	}
	return b.String()
}

// ParsePath splits a field path into key and index tokens. Keys are separated
// by dots; indices are bracketed non-negative integers.
func ParsePath(raw string) (Path, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, newError(CodeInvalidOperation, raw, "path is empty")
	}

	var path Path
	expectKey := true
	for i := 0; i < len(s); {
		switch s[i] {
		case '.':
			if expectKey {
				return nil, newError(CodeInvalidOperation, raw, "empty key at offset %d", i)
			}
			expectKey = true
			i++
		case '[':
			if expectKey && len(path) > 0 {
				return nil, newError(CodeInvalidOperation, raw, "empty key at offset %d", i)
			}
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, newError(CodeInvalidOperation, raw, "unterminated index at offset %d", i)
			}
			idx, ok := parseIndex(s[i+1 : i+end])
			if !ok {
				return nil, newError(CodeInvalidOperation, raw, "invalid index %q", s[i+1:i+end])
			}
			path = append(path, Token{Kind: IndexToken, Index: idx})
			expectKey = false
			i += end + 1
		case ']':
			return nil, newError(CodeInvalidOperation, raw, "unexpected ']' at offset %d", i)
		default:
			if !expectKey {
				return nil, newError(CodeInvalidOperation, raw, "expected '.' or '[' at offset %d", i)
			}
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != ']' {
				j++
			}
			path = append(path, Token{Kind: KeyToken, Key: s[i:j]})
			expectKey = false
			i = j
		}
	}
	if expectKey {
		return nil, newError(CodeInvalidOperation, raw, "path ends with '.'")
	}
	return path, nil
}

func parseIndex(digits string) (int, bool) {
	if digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
