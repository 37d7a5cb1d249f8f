package myth

import (
	"testing"

	"github.com/go-test/deep"
)

func testNode() *Node {
	n := &Node{
		ID:            7,
		Type:          NodeTypeFile,
		Flags:         NodeFlagReadOnly | NodeFlagHidden,
		Size:          600,
		CreatorID:     CreatorMythTool,
		TsCreated:     530000001,
		TsAccessed:    530000002,
		TsModified:    530000003,
		Owner:         -42,
		HardLinkCount: 0,
	}
	copy(n.InlineData[:], "the first sixty-four bytes of the content live inside the node")
	n.DirectData = [DirectDataBlocks]uint64{18, 19, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	n.AddrSinglyIndirect = 21
	return n
}

func TestNodeRoundTrip(t *testing.T) {
	n := testNode()
	b := n.toBytes()
	if len(b) != NodeSize {
		t.Fatalf("packed node is %d bytes instead of expected %d", len(b), NodeSize)
	}

	read, err := nodeFromBytes(b)
	if err != nil {
		t.Fatalf("nodeFromBytes error: %v", err)
	}
	if diff := deep.Equal(n, read); diff != nil {
		t.Fatalf("node did not round-trip: %v", diff)
	}
}

func TestNodePaddingIsZero(t *testing.T) {
	b := testNode().toBytes()
	for i := 0xeb; i < NodeSize; i++ {
		if b[i] != 0 {
			t.Fatalf("node padding byte %#x is %#x instead of zero", i, b[i])
		}
	}
}

func TestNodePositionBijection(t *testing.T) {
	metas := []*Meta{
		{BlockSize: 512, AddrNodeTable: 2, AddrData: 18},
		{BlockSize: 4096, AddrNodeTable: 11, AddrData: 40},
	}

	for _, m := range metas {
		nodesPerBlock := uint32(m.BlockSize) / NodeSize
		for _, id := range []uint32{0, 1, 2, nodesPerBlock - 1, nodesPerBlock, nodesPerBlock + 1, 3*nodesPerBlock + 1} {
			pos := m.resolveNodePos(id)
			if got := m.resolveNodeID(pos); got != id {
				t.Fatalf("node %d resolved to %+v which resolved back to %d", id, pos, got)
			}
			if want := pos.TableBlock*uint64(m.BlockSize) + uint64(pos.Nest)*NodeSize; pos.RawAddress != want {
				t.Fatalf("node %d raw address is %d instead of %d", id, pos.RawAddress, want)
			}
		}
	}
}

func TestFindNodeNest(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	// the first table block never hands out nest 0, the ID-0 sentinel slot
	nest, err := fs.findNodeNest(fs.meta.AddrNodeTable)
	if err != nil {
		t.Fatalf("findNodeNest error: %v", err)
	}
	if nest != 1 {
		t.Fatalf("first free nest of the first table block is %d instead of 1", nest)
	}

	// the second table block holds the root in nest 0; the third is empty
	nest, err = fs.findNodeNest(fs.meta.AddrNodeTable + 2)
	if err != nil {
		t.Fatalf("findNodeNest error: %v", err)
	}
	if nest != 0 {
		t.Fatalf("first free nest of a later table block is %d instead of 0", nest)
	}

	if _, err = fs.findNodeNest(fs.meta.AddrNodeTable - 1); err == nil {
		t.Fatal("findNodeNest accepted a block below the node table")
	}
	if _, err = fs.findNodeNest(fs.meta.AddrData); err == nil {
		t.Fatal("findNodeNest accepted a block past the node table")
	}
}

func TestFindNodeNestFullBlock(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	// fill every nest of the second table block
	nodesPerBlock := uint32(fs.meta.BlockSize) / NodeSize
	for i := uint32(0); i < nodesPerBlock; i++ {
		id := nodesPerBlock + i
		if fs.NodeExists(id) {
			continue
		}
		node := &Node{ID: id, Type: NodeTypeFile, CreatorID: CreatorMythTool, Owner: OwnerDisowned}
		if err := fs.MakeNode(node, nil); err != nil {
			t.Fatalf("MakeNode(%d) error: %v", id, err)
		}
	}

	nest, err := fs.findNodeNest(fs.meta.AddrNodeTable + 1)
	if err != nil {
		t.Fatalf("findNodeNest error: %v", err)
	}
	if nest != nestNone {
		t.Fatalf("full table block reported free nest %d instead of the %#x sentinel", nest, nestNone)
	}
}

func TestNodeExistsAndGetNode(t *testing.T) {
	fs := newTestVolume(t, 512, 1024, DefaultBytesPerNodeRatio)

	if !fs.NodeExists(NodeIDRoot) {
		t.Fatal("root node does not exist on a fresh volume")
	}
	if fs.NodeExists(5) {
		t.Fatal("node 5 exists on a fresh volume")
	}

	root, err := fs.GetNode(NodeIDRoot)
	if err != nil {
		t.Fatalf("GetNode(root) error: %v", err)
	}
	if root.ID != NodeIDRoot || root.Type != NodeTypeDirectory || root.Flags != NodeFlagSystem {
		t.Fatalf("root node read back as %+v", root)
	}

	if _, err := fs.GetNode(5); err == nil {
		t.Fatal("GetNode(5) succeeded on a fresh volume")
	}
}

func TestEntryRoundTrip(t *testing.T) {
	e := &Entry{NodeID: 9, NodeType: NodeTypeFile, Name: "kernel.sys"}
	b, err := e.toBytes()
	if err != nil {
		t.Fatalf("toBytes error: %v", err)
	}
	if len(b)%4 != 0 {
		t.Fatalf("packed entry length %d is not a multiple of 4", len(b))
	}

	read, size, err := entryFromBytes(b)
	if err != nil {
		t.Fatalf("entryFromBytes error: %v", err)
	}
	if size != len(b) {
		t.Fatalf("entry consumed %d bytes instead of %d", size, len(b))
	}
	if diff := deep.Equal(e, read); diff != nil {
		t.Fatalf("entry did not round-trip: %v", diff)
	}
}

func TestParseEntries(t *testing.T) {
	entries := []*Entry{
		{NodeID: 3, NodeType: NodeTypeDirectory, Name: "sys"},
		{NodeID: 4, NodeType: NodeTypeFile, Name: "readme"},
		{NodeID: 5, NodeType: NodeTypeSoftLink, Name: "r"},
	}

	var stream []byte
	for _, e := range entries {
		b, err := e.toBytes()
		if err != nil {
			t.Fatalf("toBytes error: %v", err)
		}
		stream = append(stream, b...)
	}

	parsed, err := parseEntries(stream)
	if err != nil {
		t.Fatalf("parseEntries error: %v", err)
	}
	if diff := deep.Equal(entries, parsed); diff != nil {
		t.Fatalf("entries did not round-trip: %v", diff)
	}
}
