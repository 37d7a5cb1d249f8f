package myth

import (
	"encoding/binary"
	"fmt"
)

const (
	// NodeSize is the exact on-disk size of one node record
	NodeSize = 256
	// InlineDataSize is how many leading payload bytes live in the node itself
	InlineDataSize = 64
	// DirectDataBlocks is the number of block addresses stored directly in the node
	DirectDataBlocks = 12

	// nestNone is the sentinel findNodeNest returns when a table block is full
	nestNone uint16 = 0xFFFF
)

// Node types.
const (
	NodeTypeFile uint16 = iota + 1
	NodeTypeDirectory
	NodeTypeSoftLink
	NodeTypeHardLink // reserved, not yet implemented
)

// Node flags.
const (
	NodeFlagClear    uint32 = 0
	NodeFlagSystem   uint32 = 1
	NodeFlagReadOnly uint32 = 1 << 1
	NodeFlagHidden   uint32 = 1 << 2
)

// OwnerDisowned marks a node without an owner, or one created externally.
const OwnerDisowned int32 = -1

// Node is one 256-byte record of the node table. The first 64 payload
// bytes are stored inline; the rest is addressed through 12 direct block
// addresses and up to three levels of indirect blocks.
type Node struct {
	ID                 uint32
	Type               uint16
	Flags              uint32
	Size               uint64 // byte length of the content
	CreatorID          uint8
	TsCreated          uint64
	TsAccessed         uint64
	TsModified         uint64
	Owner              int32
	HardLinkCount      uint32
	InlineData         [InlineDataSize]byte
	DirectData         [DirectDataBlocks]uint64
	AddrSinglyIndirect uint64
	AddrDoublyIndirect uint64
	AddrTriplyIndirect uint64
}

func (n *Node) equal(a *Node) bool {
	if (n == nil) != (a == nil) {
		return false
	}
	if n == nil {
		return true
	}
	return *n == *a
}

func nodeFromBytes(b []byte) (*Node, error) {
	if len(b) != NodeSize {
		return nil, fmt.Errorf("cannot read node from %d bytes instead of expected %d", len(b), NodeSize)
	}

	n := Node{
		ID:            binary.LittleEndian.Uint32(b[0x00:0x04]),
		Type:          binary.LittleEndian.Uint16(b[0x04:0x06]),
		Flags:         binary.LittleEndian.Uint32(b[0x06:0x0a]),
		Size:          binary.LittleEndian.Uint64(b[0x0a:0x12]),
		CreatorID:     b[0x12],
		TsCreated:     binary.LittleEndian.Uint64(b[0x13:0x1b]),
		TsAccessed:    binary.LittleEndian.Uint64(b[0x1b:0x23]),
		TsModified:    binary.LittleEndian.Uint64(b[0x23:0x2b]),
		Owner:         int32(binary.LittleEndian.Uint32(b[0x2b:0x2f])),
		HardLinkCount: binary.LittleEndian.Uint32(b[0x2f:0x33]),
	}
	copy(n.InlineData[:], b[0x33:0x73])
	for i := 0; i < DirectDataBlocks; i++ {
		n.DirectData[i] = binary.LittleEndian.Uint64(b[0x73+i*8 : 0x7b+i*8])
	}
	n.AddrSinglyIndirect = binary.LittleEndian.Uint64(b[0xd3:0xdb])
	n.AddrDoublyIndirect = binary.LittleEndian.Uint64(b[0xdb:0xe3])
	n.AddrTriplyIndirect = binary.LittleEndian.Uint64(b[0xe3:0xeb])
	// b[0xeb:0x100] is zero padding

	return &n, nil
}

func (n *Node) toBytes() []byte {
	b := make([]byte, NodeSize)

	binary.LittleEndian.PutUint32(b[0x00:0x04], n.ID)
	binary.LittleEndian.PutUint16(b[0x04:0x06], n.Type)
	binary.LittleEndian.PutUint32(b[0x06:0x0a], n.Flags)
	binary.LittleEndian.PutUint64(b[0x0a:0x12], n.Size)
	b[0x12] = n.CreatorID
	binary.LittleEndian.PutUint64(b[0x13:0x1b], n.TsCreated)
	binary.LittleEndian.PutUint64(b[0x1b:0x23], n.TsAccessed)
	binary.LittleEndian.PutUint64(b[0x23:0x2b], n.TsModified)
	binary.LittleEndian.PutUint32(b[0x2b:0x2f], uint32(n.Owner))
	binary.LittleEndian.PutUint32(b[0x2f:0x33], n.HardLinkCount)
	copy(b[0x33:0x73], n.InlineData[:])
	for i := 0; i < DirectDataBlocks; i++ {
		binary.LittleEndian.PutUint64(b[0x73+i*8:0x7b+i*8], n.DirectData[i])
	}
	binary.LittleEndian.PutUint64(b[0xd3:0xdb], n.AddrSinglyIndirect)
	binary.LittleEndian.PutUint64(b[0xdb:0xe3], n.AddrDoublyIndirect)
	binary.LittleEndian.PutUint64(b[0xe3:0xeb], n.AddrTriplyIndirect)
	// b[0xeb:0x100] stays zero padding

	return b
}

// nodePos locates a node record: the node-table block it lives in, its
// nest (slot index) within that block, and the raw byte address of the
// record on the image.
type nodePos struct {
	TableBlock uint64
	Nest       uint16
	RawAddress uint64
}

func (m *Meta) resolveNodePos(nodeID uint32) nodePos {
	nodesPerBlock := uint64(m.BlockSize) / NodeSize

	tableBlock := m.AddrNodeTable + uint64(nodeID)/nodesPerBlock
	nest := uint16(uint64(nodeID) % nodesPerBlock)
	return nodePos{
		TableBlock: tableBlock,
		Nest:       nest,
		RawAddress: tableBlock*uint64(m.BlockSize) + uint64(nest)*NodeSize,
	}
}

func (m *Meta) resolveNodeID(pos nodePos) uint32 {
	nodesPerBlock := uint64(m.BlockSize) / NodeSize
	tableIndex := pos.TableBlock - m.AddrNodeTable
	return uint32(tableIndex*nodesPerBlock + uint64(pos.Nest))
}

// findNodeNest scans all slots of one node-table block and returns the
// first unused one, or nestNone when the block is full. Slot 0 of the
// first table block is skipped: the ID-0 sentinel slot must stay empty.
func (fs *FileSystem) findNodeNest(tableBlock uint64) (uint16, error) {
	if tableBlock < fs.meta.AddrNodeTable || tableBlock >= fs.meta.AddrData {
		return nestNone, fmt.Errorf("block %d is not within the node table range [%d, %d)", tableBlock, fs.meta.AddrNodeTable, fs.meta.AddrData)
	}

	b := make([]byte, fs.meta.BlockSize)
	if _, err := fs.file.ReadAt(b, int64(tableBlock*uint64(fs.meta.BlockSize))); err != nil {
		return nestNone, fmt.Errorf("could not read node table block %d: %v", tableBlock, err)
	}

	nodesPerBlock := uint16(fs.meta.BlockSize / NodeSize)
	first := uint16(0)
	if tableBlock == fs.meta.AddrNodeTable {
		first = 1
	}
	for nest := first; nest < nodesPerBlock; nest++ {
		if binary.LittleEndian.Uint32(b[int(nest)*NodeSize:]) == NodeIDInvalid {
			return nest, nil
		}
	}
	return nestNone, nil
}

// NodeExists reports whether the slot for nodeID holds a live record.
func (fs *FileSystem) NodeExists(nodeID uint32) bool {
	pos := fs.meta.resolveNodePos(nodeID)

	b := make([]byte, NodeSize)
	if _, err := fs.file.ReadAt(b, int64(pos.RawAddress)); err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(b[0:4]) != NodeIDInvalid
}

// GetNode reads the node record for nodeID.
func (fs *FileSystem) GetNode(nodeID uint32) (*Node, error) {
	pos := fs.meta.resolveNodePos(nodeID)

	b := make([]byte, NodeSize)
	if _, err := fs.file.ReadAt(b, int64(pos.RawAddress)); err != nil {
		return nil, fmt.Errorf("could not read node %d from block %d, nest %d: %v: %w", nodeID, pos.TableBlock, pos.Nest, err, WriteDiskError)
	}

	n, err := nodeFromBytes(b)
	if err != nil {
		return nil, err
	}
	if n.ID == NodeIDInvalid {
		return nil, fmt.Errorf("node %d: %w", nodeID, WriteNodeDoesNotExist)
	}
	return n, nil
}

// NodeTypeString names a node type for display.
func NodeTypeString(t uint16) string {
	switch t {
	case NodeTypeFile:
		return "File"
	case NodeTypeDirectory:
		return "Directory"
	case NodeTypeSoftLink:
		return "Soft Link"
	case NodeTypeHardLink:
		return "Hard Link"
	}
	return "((Invalid, Non-Standard Node Type))"
}

// OwnerString classifies an owner field for display. Negative values other
// than -1 are group IDs when turned positive.
func OwnerString(owner int32) string {
	switch {
	case owner == OwnerDisowned:
		return "Disowned"
	case owner == 1:
		return "Highest Privilege User"
	case owner < 0:
		return "Unknown Group"
	case owner > 0:
		return "Unknown User"
	}
	return "System"
}
