// Package fdt reads just enough of a flattened device tree blob to
// answer the two questions this kernel boots needing answered: how
// much physical memory does /memory/reg describe, and where did the
// bootloader place the initrd (/chosen/linux,initrd-start and
// linux,initrd-end)? It is not a general property-tree library: no
// node mutation, no write path, no phandle resolution.
package fdt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	magic = 0xd00d_feed

	tokenBeginNode = 0x00000001
	tokenEndNode   = 0x00000002
	tokenProp      = 0x00000003
	tokenNop       = 0x00000004
	tokenEnd       = 0x00000009
)

var (
	ErrBadMagic          = errors.New("fdt: bad magic, not a flattened device tree")
	ErrTruncated         = errors.New("fdt: blob shorter than its header's totalsize")
	ErrUnsupportedVer    = errors.New("fdt: unsupported FDT version")
	ErrMalformedStruct   = errors.New("fdt: malformed structure block")
	ErrPropertyNotFound  = errors.New("fdt: property not found")
	ErrPropertyWrongSize = errors.New("fdt: property has the wrong size for the requested type")
)

type header struct {
	totalsize    uint32
	offDtStruct  uint32
	offDtStrings uint32
	offMemRsvmap uint32
	version      uint32
	lastCompVer  uint32
	bootCPUID    uint32
}

func parseHeader(blob []byte) (header, error) {
	if len(blob) < 40 {
		return header{}, ErrTruncated
	}
	be := binary.BigEndian
	h := header{
		totalsize:    be.Uint32(blob[4:8]),
		offDtStruct:  be.Uint32(blob[8:12]),
		offDtStrings: be.Uint32(blob[12:16]),
		offMemRsvmap: be.Uint32(blob[16:20]),
		version:      be.Uint32(blob[20:24]),
		lastCompVer:  be.Uint32(blob[24:28]),
		bootCPUID:    be.Uint32(blob[28:32]),
	}
	if be.Uint32(blob[0:4]) != magic {
		return header{}, ErrBadMagic
	}
	if int(h.totalsize) > len(blob) {
		return header{}, ErrTruncated
	}
	if h.version != 17 || h.lastCompVer != 16 {
		return header{}, fmt.Errorf("%w: version=%d last_comp_version=%d", ErrUnsupportedVer, h.version, h.lastCompVer)
	}
	return h, nil
}

// Property is one NUL-free property value and its raw bytes, exactly
// as encoded in the blob.
type Property struct {
	Name  string
	Value []byte
}

// Uint32 decodes a single big-endian cell.
func (p Property) Uint32() (uint32, error) {
	if len(p.Value) != 4 {
		return 0, ErrPropertyWrongSize
	}
	return binary.BigEndian.Uint32(p.Value), nil
}

// Uint64 decodes two big-endian cells as one value (the common
// #address-cells=2/#size-cells=2 encoding this kernel targets).
func (p Property) Uint64() (uint64, error) {
	if len(p.Value) != 8 {
		return 0, ErrPropertyWrongSize
	}
	return binary.BigEndian.Uint64(p.Value), nil
}

// String decodes a single NUL-terminated string property.
func (p Property) String() (string, error) {
	i := 0
	for i < len(p.Value) && p.Value[i] != 0 {
		i++
	}
	return string(p.Value[:i]), nil
}

// Node is one device-tree node: its name and direct properties. Child
// nodes are not retained on this struct — Tree.FindByPath walks the
// blob fresh each call, which is fine for the handful of boot-time
// lookups this package exists for.
type Node struct {
	Name  string
	Props []Property
}

// Property looks up a property by name on this node.
func (n Node) Property(name string) (Property, bool) {
	for _, p := range n.Props {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Tree is a parsed, validated FDT blob ready for querying.
type Tree struct {
	blob   []byte
	hdr    header
	strBlk []byte
}

// Parse validates blob's header and returns a queryable Tree.
func Parse(blob []byte) (*Tree, error) {
	h, err := parseHeader(blob)
	if err != nil {
		return nil, err
	}
	return &Tree{blob: blob[:h.totalsize], hdr: h, strBlk: blob[h.offDtStrings:]}, nil
}

func (t *Tree) getString(off uint32) string {
	rest := t.strBlk[off:]
	i := 0
	for i < len(rest) && rest[i] != 0 {
		i++
	}
	return string(rest[:i])
}

// ReserveEntry is one /memreserve/ block: a physical range the
// bootloader asks the kernel not to use for anything else.
type ReserveEntry struct {
	Address, Size uint64
}

// ReservedMemory returns the memory reservation block, stopping at the
// first all-zero terminator entry.
func (t *Tree) ReservedMemory() ([]ReserveEntry, error) {
	var out []ReserveEntry
	off := t.hdr.offMemRsvmap
	for {
		if int(off)+16 > len(t.blob) {
			return nil, ErrTruncated
		}
		addr := binary.BigEndian.Uint64(t.blob[off : off+8])
		size := binary.BigEndian.Uint64(t.blob[off+8 : off+16])
		off += 16
		if addr == 0 && size == 0 {
			return out, nil
		}
		out = append(out, ReserveEntry{Address: addr, Size: size})
	}
}

// structCursor walks the struct block, handed out only internally.
type structCursor struct {
	t   *Tree
	off uint32
}

func (c *structCursor) u32() (uint32, error) {
	if int(c.off)+4 > len(c.t.blob) {
		return 0, ErrMalformedStruct
	}
	v := binary.BigEndian.Uint32(c.t.blob[c.off : c.off+4])
	c.off += 4
	return v, nil
}

func align4(off uint32) uint32 { return (off + 3) &^ 3 }

// readNode reads one node's name and direct properties (the BEGIN_NODE
// token must already have been consumed by the caller), leaving the
// cursor positioned right at whatever follows: the first child's
// BEGIN_NODE token, or this node's own END_NODE if it has no children.
// It does not recurse into children itself — callers that need to skip
// past a subtree call skipSubtree, and FindByPath walks one path
// segment at a time by reading sibling BEGIN_NODE tokens directly.
func (c *structCursor) readNode() (Node, error) {
	start := c.off
	nameEnd := start
	for {
		if int(nameEnd) >= len(c.t.blob) {
			return Node{}, ErrMalformedStruct
		}
		if c.t.blob[nameEnd] == 0 {
			break
		}
		nameEnd++
	}
	name := string(c.t.blob[start:nameEnd])
	c.off = align4(nameEnd + 1)

	var props []Property
	for {
		tok, err := c.peek()
		if err != nil {
			return Node{}, err
		}
		switch tok {
		case tokenNop:
			c.off += 4
		case tokenProp:
			c.off += 4
			length, err := c.u32()
			if err != nil {
				return Node{}, err
			}
			nameOff, err := c.u32()
			if err != nil {
				return Node{}, err
			}
			if int(c.off)+int(length) > len(c.t.blob) {
				return Node{}, ErrMalformedStruct
			}
			value := c.t.blob[c.off : c.off+length]
			c.off = align4(c.off + length)
			props = append(props, Property{Name: c.t.getString(nameOff), Value: value})
		case tokenBeginNode, tokenEndNode, tokenEnd:
			return Node{Name: name, Props: props}, nil
		default:
			return Node{}, fmt.Errorf("%w: unknown token %#x", ErrMalformedStruct, tok)
		}
	}
}

func (c *structCursor) peek() (uint32, error) {
	if int(c.off)+4 > len(c.t.blob) {
		return 0, ErrMalformedStruct
	}
	return binary.BigEndian.Uint32(c.t.blob[c.off : c.off+4]), nil
}

// skipSubtree advances past a node's remaining children and its
// END_NODE token, assuming readNode has already consumed the node's
// own name and direct properties (the cursor sits right after the
// property list, at the first child's BEGIN_NODE or at END_NODE).
func (c *structCursor) skipSubtree() error {
	depth := 1
	for depth > 0 {
		tok, err := c.u32()
		if err != nil {
			return err
		}
		switch tok {
		case tokenBeginNode:
			if _, err := c.readNode(); err != nil {
				return err
			}
			depth++
		case tokenEndNode:
			depth--
		case tokenNop:
		case tokenEnd:
			return ErrMalformedStruct
		default:
			return fmt.Errorf("%w: unknown token %#x while skipping", ErrMalformedStruct, tok)
		}
	}
	return nil
}

// FindByPath walks from the root to the node named by a slash-separated
// path (e.g. "/memory", "/chosen"), returning its name and direct
// properties. An empty path or "/" returns the root node.
func (t *Tree) FindByPath(path string) (Node, bool, error) {
	c := &structCursor{t: t, off: t.hdr.offDtStruct}
	tok, err := c.u32()
	if err != nil {
		return Node{}, false, err
	}
	if tok != tokenBeginNode {
		return Node{}, false, ErrMalformedStruct
	}
	node, err := c.readNode()
	if err != nil {
		return Node{}, false, err
	}

	path = strings.Trim(path, "/")
	if path == "" {
		return node, true, nil
	}

	segments := strings.Split(path, "/")
	for _, seg := range segments {
		found := false
		for {
			tok, err := c.u32()
			if err != nil {
				return Node{}, false, err
			}
			if tok == tokenEndNode || tok == tokenEnd {
				return Node{}, false, nil
			}
			if tok == tokenNop {
				continue
			}
			if tok != tokenBeginNode {
				return Node{}, false, fmt.Errorf("%w: unknown token %#x", ErrMalformedStruct, tok)
			}
			child, err := c.readNode()
			if err != nil {
				return Node{}, false, err
			}
			if child.Name == seg || nodeBaseName(child.Name) == seg {
				node = child
				found = true
				break
			}
			if err := c.skipSubtree(); err != nil {
				return Node{}, false, err
			}
		}
		if !found {
			return Node{}, false, nil
		}
	}
	return node, true, nil
}

func nodeBaseName(name string) string {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i]
	}
	return name
}

// MemoryRegion is one entry from /memory's reg property, decoded
// assuming #address-cells=2 #size-cells=2 (QEMU virt's default).
type MemoryRegion struct {
	Base, Size uint64
}

// MemoryRegions reads /memory/reg as a sequence of (base, size) pairs.
func (t *Tree) MemoryRegions() ([]MemoryRegion, error) {
	node, ok, err := t.FindByPath("/memory")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: /memory", ErrPropertyNotFound)
	}
	reg, ok := node.Property("reg")
	if !ok {
		return nil, fmt.Errorf("%w: /memory/reg", ErrPropertyNotFound)
	}
	if len(reg.Value)%16 != 0 {
		return nil, ErrPropertyWrongSize
	}
	var out []MemoryRegion
	for off := 0; off < len(reg.Value); off += 16 {
		base := binary.BigEndian.Uint64(reg.Value[off : off+8])
		size := binary.BigEndian.Uint64(reg.Value[off+8 : off+16])
		out = append(out, MemoryRegion{Base: base, Size: size})
	}
	return out, nil
}

// InitrdRange reads /chosen's linux,initrd-start and linux,initrd-end,
// each accepted as either one big-endian 32-bit cell or a 64-bit value.
func (t *Tree) InitrdRange() (start, end uint64, ok bool, err error) {
	node, present, err := t.FindByPath("/chosen")
	if err != nil || !present {
		return 0, 0, false, err
	}
	startProp, ok1 := node.Property("linux,initrd-start")
	endProp, ok2 := node.Property("linux,initrd-end")
	if !ok1 || !ok2 {
		return 0, 0, false, nil
	}
	start, err = cellsToUint64(startProp.Value)
	if err != nil {
		return 0, 0, false, err
	}
	end, err = cellsToUint64(endProp.Value)
	if err != nil {
		return 0, 0, false, err
	}
	return start, end, true, nil
}

func cellsToUint64(v []byte) (uint64, error) {
	switch len(v) {
	case 4:
		return uint64(binary.BigEndian.Uint32(v)), nil
	case 8:
		return binary.BigEndian.Uint64(v), nil
	default:
		return 0, ErrPropertyWrongSize
	}
}
