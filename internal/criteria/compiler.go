package criteria

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type nodeKind int

const (
	nodeAll nodeKind = iota
	nodeAny
	nodeNot
	nodeLeaf
	nodeInvalid
)

// Node is a compiled criteria tree. The zero value is not usable; build nodes
// with Compile or MatchAll.
type Node struct {
	kind       nodeKind
	children   []*Node
	path       Path
	conditions []Condition
	reason     string
}

// MatchAll returns the node of an empty criteria object, which is always true.
func MatchAll() *Node {
	return &Node{kind: nodeAll}
}

// Valid reports whether the root node compiled into something evaluable.
func (n *Node) Valid() bool {
	return n != nil && n.kind != nodeInvalid
}

// ErrInvalidJSON is returned by Compile when the input is not JSON at all.
// Well-formed JSON that is not a valid criteria tree still compiles, into nodes
// that evaluate to false.
var ErrInvalidJSON = errors.New("criteria is not valid JSON")

// member is one key/value pair of a JSON object, in document order.
type member struct {
	key   string
	value json.RawMessage
}

// Compile parses raw criteria JSON into a Node. Object key order is preserved
// because it is the evaluation (and short-circuit) order.
// Empty input and null compile to MatchAll.
func Compile(raw json.RawMessage) (*Node, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return MatchAll(), nil
	}
	if !json.Valid(trimmed) {
		return nil, ErrInvalidJSON
	}
	return compileObject(trimmed), nil
}

// MustCompile is Compile for literals in tests and fixtures. It panics on invalid JSON.
func MustCompile(raw string) *Node {
	n, err := Compile(json.RawMessage(raw))
	if err != nil {
		panic(fmt.Sprintf("criteria: %v: %s", err, raw))
	}
	return n
}

// compileObject compiles {"key": value, ...} into an implicit $and over its keys.
func compileObject(raw json.RawMessage) *Node {
	members, err := decodeObject(raw)
	if err != nil {
		return invalid("criteria node must be an object")
	}

	node := &Node{kind: nodeAll, children: make([]*Node, 0, len(members))}
	for _, m := range members {
		node.children = append(node.children, compileMember(m))
	}
	return node
}

func compileMember(m member) *Node {
	switch m.key {
	case KeyAnd:
		return compileSequence(nodeAll, m.value)
	case KeyOr:
		return compileSequence(nodeAny, m.value)
	case KeyNot:
		return compileNot(m.value)
	}
	if strings.HasPrefix(m.key, "$") {
		return invalid("unknown combinator " + m.key)
	}
	return compileLeaf(m.key, m.value)
}

func compileSequence(kind nodeKind, raw json.RawMessage) *Node {
	elements, err := decodeArray(raw)
	if err != nil {
		return invalid("combinator expects an array")
	}
	node := &Node{kind: kind, children: make([]*Node, 0, len(elements))}
	for _, e := range elements {
		node.children = append(node.children, compileObject(e))
	}
	return node
}

// compileNot accepts either a bare node or a sequence. A one-element sequence
// is the same as its element; longer sequences are ANDed before negation.
func compileNot(raw json.RawMessage) *Node {
	var child *Node
	switch firstByte(raw) {
	case '{':
		child = compileObject(raw)
	case '[':
		seq := compileSequence(nodeAll, raw)
		if len(seq.children) == 1 {
			child = seq.children[0]
		} else {
			child = seq
		}
	default:
		return invalid("$not expects an object or an array")
	}
	return &Node{kind: nodeNot, children: []*Node{child}}
}

// compileLeaf handles "path": literal and "path": {"$op": param, ...}.
func compileLeaf(key string, raw json.RawMessage) *Node {
	node := &Node{kind: nodeLeaf, path: ParsePath(key)}

	if firstByte(raw) != '{' || isTagged(raw) {
		node.conditions = []Condition{{Operator: OpEq, Parameter: parseParameter(raw)}}
		return node
	}

	members, err := decodeObject(raw)
	if err != nil {
		return invalid("malformed operator map for " + key)
	}
	node.conditions = make([]Condition, 0, len(members))
	for _, m := range members {
		node.conditions = append(node.conditions, Condition{
			Operator:  m.key,
			Parameter: parseParameter(m.value),
		})
	}
	return node
}

// parseParameter maps a JSON literal onto the closed Parameter set.
func parseParameter(raw json.RawMessage) Parameter {
	switch firstByte(raw) {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return InvalidParam{Reason: "malformed string"}
		}
		return StringParam(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return InvalidParam{Reason: "malformed boolean"}
		}
		return BoolParam(b)
	case 'n':
		return InvalidParam{Reason: "null parameter"}
	case '[':
		return InvalidParam{Reason: "array parameter"}
	case '{':
		return parseTagged(raw)
	default:
		f, err := strconv.ParseFloat(string(bytes.TrimSpace(raw)), 64)
		if err != nil {
			return InvalidParam{Reason: "malformed number"}
		}
		return NumberParam(f)
	}
}

func parseTagged(raw json.RawMessage) Parameter {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return InvalidParam{Reason: "malformed object"}
	}
	tag, _ := obj[tagKey].(string)
	switch tag {
	case tagDateTime:
		sec, ok := obj["sec"].(float64)
		if !ok {
			return InvalidParam{Reason: "datetime without numeric sec"}
		}
		return DateTimeParam{Seconds: sec}
	case tagVersion:
		v, ok := obj["version"].(string)
		if !ok {
			return InvalidParam{Reason: "version without string version"}
		}
		return VersionParam{Text: v}
	case "":
		return InvalidParam{Reason: "untagged object"}
	default:
		return InvalidParam{Reason: "unknown tag " + tag}
	}
}

func isTagged(raw json.RawMessage) bool {
	var tagged struct {
		Type *string `json:"_type"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return false
	}
	return tagged.Type != nil
}

func invalid(reason string) *Node {
	return &Node{kind: nodeInvalid, reason: reason}
}

// decodeObject returns the members of a JSON object in document order.
func decodeObject(raw json.RawMessage) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var members []member
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		members = append(members, member{key: key, value: value})
	}
	return members, nil
}

func decodeArray(raw json.RawMessage) ([]json.RawMessage, error) {
	if firstByte(raw) != '[' {
		return nil, errors.New("expected array")
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, err
	}
	return elements, nil
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
