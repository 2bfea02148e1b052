package fdt

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type fdtBuilder struct {
	structBuf  bytes.Buffer
	strBuf     bytes.Buffer
	strOffsets map[string]uint32
}

func newFDTBuilder() *fdtBuilder {
	return &fdtBuilder{strOffsets: map[string]uint32{}}
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func padTo4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func (b *fdtBuilder) strOff(name string) uint32 {
	if off, ok := b.strOffsets[name]; ok {
		return off
	}
	off := uint32(b.strBuf.Len())
	b.strBuf.WriteString(name)
	b.strBuf.WriteByte(0)
	b.strOffsets[name] = off
	return off
}

func (b *fdtBuilder) beginNode(name string) {
	writeU32(&b.structBuf, tokenBeginNode)
	b.structBuf.WriteString(name)
	b.structBuf.WriteByte(0)
	padTo4(&b.structBuf)
}

func (b *fdtBuilder) endNode() { writeU32(&b.structBuf, tokenEndNode) }

func (b *fdtBuilder) prop(name string, value []byte) {
	writeU32(&b.structBuf, tokenProp)
	writeU32(&b.structBuf, uint32(len(value)))
	writeU32(&b.structBuf, b.strOff(name))
	b.structBuf.Write(value)
	padTo4(&b.structBuf)
}

func u64be(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func (b *fdtBuilder) build() []byte {
	writeU32(&b.structBuf, tokenEnd)

	const headerLen = 40
	memRsvmapOff := uint32(headerLen)
	memRsvmapLen := uint32(16) // one all-zero terminator entry
	structOff := memRsvmapOff + memRsvmapLen
	structLen := uint32(b.structBuf.Len())
	stringsOff := structOff + structLen
	total := stringsOff + uint32(b.strBuf.Len())

	var out bytes.Buffer
	writeU32(&out, magic)
	writeU32(&out, total)
	writeU32(&out, structOff)
	writeU32(&out, stringsOff)
	writeU32(&out, memRsvmapOff)
	writeU32(&out, 17) // version
	writeU32(&out, 16) // last_comp_version
	writeU32(&out, 0)  // boot_cpuid_phys
	writeU32(&out, uint32(b.strBuf.Len()))
	writeU32(&out, structLen)

	out.Write(make([]byte, 16)) // memrsvmap terminator
	out.Write(b.structBuf.Bytes())
	out.Write(b.strBuf.Bytes())
	return out.Bytes()
}

func buildTestTree() *Tree {
	b := newFDTBuilder()
	b.beginNode("")
	b.beginNode("memory@80000000")
	reg := append(append([]byte{}, u64be(0x8000_0000)...), u64be(0x1000_0000)...)
	b.prop("reg", reg)
	b.endNode()
	b.beginNode("chosen")
	b.prop("linux,initrd-start", u64be(0x8400_0000))
	b.prop("linux,initrd-end", u64be(0x8420_0000))
	b.endNode()
	b.endNode()

	tree, err := Parse(b.build())
	if err != nil {
		panic(err)
	}
	return tree
}

func TestParseRejectsBadMagic(t *testing.T) {
	blob := make([]byte, 64)
	if _, err := Parse(blob); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestFindByPathLocatesMemoryNode(t *testing.T) {
	tree := buildTestTree()
	node, ok, err := tree.FindByPath("/memory")
	if err != nil || !ok {
		t.Fatalf("FindByPath: ok=%v err=%v", ok, err)
	}
	if node.Name != "memory@80000000" {
		t.Fatalf("unexpected node name %q", node.Name)
	}
}

func TestFindByPathMissingReturnsNotOk(t *testing.T) {
	tree := buildTestTree()
	_, ok, err := tree.FindByPath("/nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no match for a nonexistent path")
	}
}

func TestMemoryRegionsDecodesRegProperty(t *testing.T) {
	tree := buildTestTree()
	regions, err := tree.MemoryRegions()
	if err != nil {
		t.Fatalf("MemoryRegions: %v", err)
	}
	if len(regions) != 1 || regions[0].Base != 0x8000_0000 || regions[0].Size != 0x1000_0000 {
		t.Fatalf("unexpected regions: %+v", regions)
	}
}

func TestInitrdRangeDecodesChosenProperties(t *testing.T) {
	tree := buildTestTree()
	start, end, ok, err := tree.InitrdRange()
	if err != nil || !ok {
		t.Fatalf("InitrdRange: ok=%v err=%v", ok, err)
	}
	if start != 0x8400_0000 || end != 0x8420_0000 {
		t.Fatalf("got start=%#x end=%#x", start, end)
	}
}

func TestReservedMemoryStopsAtTerminator(t *testing.T) {
	tree := buildTestTree()
	entries, err := tree.ReservedMemory()
	if err != nil {
		t.Fatalf("ReservedMemory: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no reservations, got %+v", entries)
	}
}
