// Package vdf implements just enough of Valve Data Format — quoted keys
// and values, brace-delimited subsections — to read and write the
// archive's Key.vdf depot-key registry. No general-purpose VDF library
// exists in the wild worth pulling in for a document shape this small;
// the teacher's own internal/cbor/dagcbor shows the same move: hand-roll
// a codec over a primitive wire format rather than reach for a library
// that doesn't exist.
package vdf

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Node is a VDF document node: either a leaf string value or a
// subsection holding further named nodes. Key order is not significant
// to the format; Marshal emits keys sorted for reproducible blobs (so
// "tree id unchanged ⇒ unchanged" in write_manifest's step 6 is decidable
// by byte comparison).
type Node struct {
	Value    string
	Children map[string]*Node
}

// Leaf constructs a string-valued node.
func Leaf(value string) *Node { return &Node{Value: value} }

// Section constructs an empty subsection node.
func Section() *Node { return &Node{Children: map[string]*Node{}} }

func (n *Node) isLeaf() bool { return n.Children == nil }

// Get returns the child named key, or nil if absent or n is a leaf.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Children == nil {
		return nil
	}
	return n.Children[key]
}

// Set inserts or replaces the child named key. n must be a subsection;
// Set panics on a leaf node, which would be a programming error in this
// package's callers, never attacker-controlled input.
func (n *Node) Set(key string, child *Node) {
	if n.Children == nil {
		panic("vdf: Set called on a leaf node")
	}
	n.Children[key] = child
}

// KeysVDF is the fixed document shape spec.md §4.1 describes:
// "depots" { "<depot_id>" { "DecryptionKey" "<hex>" } ... }.
type KeysVDF struct {
	root *Node
}

// NewKeysVDF returns an empty "depots" {} document.
func NewKeysVDF() *KeysVDF {
	root := Section()
	root.Set("depots", Section())
	return &KeysVDF{root: root}
}

// ParseKeysVDF decodes a Key.vdf blob. A malformed or absent blob is
// treated as an empty document per spec.md §4.2 step 4 and §7's
// "JSON/VDF decode failure in tree blobs" handling: Parse swallows the
// decode failure itself, so the result is an empty "depots" document and
// the returned error is always nil.
func ParseKeysVDF(b []byte) (*KeysVDF, error) {
	node, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if node.Get("depots") == nil {
		node.Set("depots", Section())
	}
	return &KeysVDF{root: node}, nil
}

// UpsertDepotKey records depotID's decryption key, hex-encoded. Per
// invariant I2, this is append-only from the caller's perspective — it
// never removes an existing depot entry, only adds or overwrites one.
func (k *KeysVDF) UpsertDepotKey(depotID uint32, keyHex string) {
	depots := k.root.Get("depots")
	entry := Section()
	entry.Set("DecryptionKey", Leaf(keyHex))
	depots.Set(strconv.FormatUint(uint64(depotID), 10), entry)
}

// DepotKey returns the recorded hex key for depotID, if any.
func (k *KeysVDF) DepotKey(depotID uint32) (string, bool) {
	depots := k.root.Get("depots")
	entry := depots.Get(strconv.FormatUint(uint64(depotID), 10))
	if entry == nil {
		return "", false
	}
	keyNode := entry.Get("DecryptionKey")
	if keyNode == nil {
		return "", false
	}
	return keyNode.Value, true
}

// Marshal serializes the document with sorted keys at every level, so
// two documents with the same logical content always produce byte-equal
// output.
func (k *KeysVDF) Marshal() []byte {
	var sb strings.Builder
	writeChildren(&sb, k.root, 0)
	return []byte(sb.String())
}

func writeNode(sb *strings.Builder, key string, n *Node, depth int) {
	indent := strings.Repeat("\t", depth)
	if n.isLeaf() {
		fmt.Fprintf(sb, "%s%s\t%s\n", indent, quote(key), quote(n.Value))
		return
	}
	fmt.Fprintf(sb, "%s%s\n%s{\n", indent, quote(key), indent)
	writeChildren(sb, n, depth+1)
	fmt.Fprintf(sb, "%s}\n", indent)
}

func writeChildren(sb *strings.Builder, n *Node, depth int) {
	keys := make([]string, 0, len(n.Children))
	for k := range n.Children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeNode(sb, k, n.Children[k], depth)
	}
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}

// Parse decodes a raw VDF document into its root section node. An empty
// input decodes to an empty section rather than an error, matching
// spec.md §7's "treated as empty document" rule for decode failures of
// tree blobs.
func Parse(b []byte) (*Node, error) {
	if len(b) == 0 {
		return Section(), nil
	}
	p := &parser{input: string(b)}
	root := Section()
	if err := p.parseChildren(root); err != nil {
		return Section(), nil // swallow malformed input, per spec.md §7
	}
	return root, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) parseChildren(into *Node) error {
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return nil
		}
		if p.input[p.pos] == '}' {
			return nil
		}
		key, err := p.parseQuoted()
		if err != nil {
			return err
		}
		p.skipSpace()
		if p.pos >= len(p.input) {
			return errors.New("vdf: unexpected end of input after key")
		}
		if p.input[p.pos] == '{' {
			p.pos++
			child := Section()
			if err := p.parseChildren(child); err != nil {
				return err
			}
			p.skipSpace()
			if p.pos >= len(p.input) || p.input[p.pos] != '}' {
				return errors.New("vdf: missing closing brace")
			}
			p.pos++
			into.Set(key, child)
			continue
		}
		value, err := p.parseQuoted()
		if err != nil {
			return err
		}
		into.Set(key, Leaf(value))
	}
}

func (p *parser) parseQuoted() (string, error) {
	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != '"' {
		return "", errors.New("vdf: expected quoted token")
	}
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '\\' && p.pos+1 < len(p.input) {
			sb.WriteByte(p.input[p.pos+1])
			p.pos += 2
			continue
		}
		if c == '"' {
			p.pos++
			return sb.String(), nil
		}
		sb.WriteByte(c)
		p.pos++
	}
	return "", errors.New("vdf: unterminated quoted token")
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}
