package myth

import (
	"encoding/binary"
	"fmt"
	"math/rand"
)

const (
	// configHeaderString is the signature of the bootstrap chunk at byte 2 of the image
	configHeaderString = "MYTH"
	configHeaderSize   = 4
	// metaHeaderString is the signature every volume metadata block starts with
	metaHeaderString = "FSMETA"
	metaHeaderSize   = 6
	// metaTail closes the metadata block right before the checksum
	metaTail uint32 = 0xB10F5CC7

	// VolumeNameSize is the fixed width of the volume name field
	VolumeNameSize = 32
	uniqueIDSize   = 16
	vendorIDSize   = 12

	uniqueIDCharset = "0123456789" +
		"abcdefghijklmnopqrstuvwxyz" +
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// MinBlockSize is the granularity every block size must be a multiple of
	MinBlockSize uint16 = 512
	// DefaultBlockSize is a conventional block size for new volumes; the makefs
	// command always takes the block size from its arguments
	DefaultBlockSize uint16 = 4096

	// DefaultBytesPerNodeRatio is the default number of volume bytes backing one node slot
	DefaultBytesPerNodeRatio uint64 = 16384

	// InitialMajor is the first published major version of the on-disk format
	InitialMajor uint16 = 1
	// LatestMajor is the major version this package writes
	LatestMajor = InitialMajor
	// InitialRevision must be returned to on every major increment
	InitialRevision uint16 = 0
	// LatestRevision is the revision this package writes
	LatestRevision = InitialRevision

	metaSize          = 179
	metaChecksumStart = metaSize - 4
	configChunkSize   = 14
	configChunkOffset = 2
)

// Creator IDs, persisted in the superblock and in every node record.
const (
	CreatorWildcard uint8 = iota
	CreatorMythTool
	CreatorBioOS
)

// Error states a mounted volume can be left in.
const (
	ErrorStatePrenormal uint8 = iota
	ErrorStateNormal
	ErrorStateAbnormal
)

// Actions a driver takes when it finds the volume in an abnormal state.
// Bioizate means a kernel panic in the surrounding operating system; the
// tool only ever persists the value.
const (
	ErrorActionNone uint8 = iota
	ErrorActionReadOnly
	ErrorActionBioizate
)

// Reserved node IDs. ID 0 marks an empty slot, 1 is held for the journal
// root, 2 is the file-system root directory.
const (
	NodeIDInvalid uint32 = 0
	NodeIDJournal uint32 = 1
	NodeIDRoot    uint32 = 2
)

// configChunk is the bootstrap chunk at byte offset 2 of the image (bytes
// 0-1 are reserved for a short-jump placeholder). It carries just enough to
// locate the metadata block.
type configChunk struct {
	bytesPerBlock    uint16
	fileSystemOffset uint64
}

func configChunkFromBytes(b []byte) (*configChunk, error) {
	if len(b) != configChunkSize {
		return nil, fmt.Errorf("cannot read configuration chunk from %d bytes instead of expected %d: %w", len(b), configChunkSize, FormatMiscFailure)
	}
	if string(b[0:4]) != configHeaderString {
		return nil, fmt.Errorf("configuration chunk lacks the %q header, read %q; this disk does not contain a Myth file system: %w", configHeaderString, string(b[0:4]), FormatInvalidConfigHeader)
	}
	return &configChunk{
		bytesPerBlock:    binary.LittleEndian.Uint16(b[4:6]),
		fileSystemOffset: binary.LittleEndian.Uint64(b[6:14]),
	}, nil
}

func (c *configChunk) toBytes() []byte {
	b := make([]byte, configChunkSize)
	copy(b[0:4], configHeaderString)
	binary.LittleEndian.PutUint16(b[4:6], c.bytesPerBlock)
	binary.LittleEndian.PutUint64(b[6:14], c.fileSystemOffset)
	return b
}

// Meta is the volume metadata block. One per volume, at block Origin,
// rewritten after every mutation that changes allocator state.
type Meta struct {
	Flags                  uint32
	FsMajor                uint16
	Revision               uint16
	VendorID               string
	BlockSize              uint16
	Size                   uint64 // volume size in blocks
	NodeCapacity           uint32
	Origin                 uint64
	NumAllocatedBlocks     uint64
	NumAllocatedNodes      uint32
	VolumeName             string
	CreatorID              uint8
	TsCreated              uint64
	TsMounted              uint64
	UniqueID               string
	ErrorState             uint8
	ErrorAction            uint8
	AddrBitmap             uint64
	AddrNodeTable          uint64
	AddrData               uint64
	AddrExtension          uint64 // reserved for volume resize, always 0
	LastAllocatedNodeID    uint32
	LastAllocatedDataBlock uint64
	Checksum               uint32
}

func (m *Meta) equal(a *Meta) bool {
	if (m == nil) != (a == nil) {
		return false
	}
	if m == nil {
		return true
	}
	return *m == *a
}

// metaFromBytes unpacks and validates a metadata block. Validation order is
// fixed: header, tail, then the CRC over everything preceding the checksum.
func metaFromBytes(b []byte) (*Meta, error) {
	if len(b) != metaSize {
		return nil, fmt.Errorf("cannot read volume metadata from %d bytes instead of expected %d: %w", len(b), metaSize, FormatMiscFailure)
	}

	if string(b[0x00:0x06]) != metaHeaderString {
		return nil, fmt.Errorf("metadata block lacks the %q header, read %q: %w", metaHeaderString, string(b[0x00:0x06]), FormatInvalidHeader)
	}

	tail := binary.LittleEndian.Uint32(b[0xab:0xaf])
	if tail != metaTail {
		return nil, fmt.Errorf("metadata block carries tail value %#x instead of expected %#x: %w", tail, metaTail, FormatInvalidTail)
	}

	checksum := binary.LittleEndian.Uint32(b[0xaf:0xb3])
	if actual := checksumCRC32(b[:metaChecksumStart]); actual != checksum {
		return nil, fmt.Errorf("metadata checksum %#x does not match freshly calculated checksum %#x: %w", checksum, actual, FormatInvalidChecksum)
	}

	m := Meta{
		Flags:                  binary.LittleEndian.Uint32(b[0x06:0x0a]),
		FsMajor:                binary.LittleEndian.Uint16(b[0x0a:0x0c]),
		Revision:               binary.LittleEndian.Uint16(b[0x0c:0x0e]),
		VendorID:               trimNulls(b[0x0e:0x1a]),
		BlockSize:              binary.LittleEndian.Uint16(b[0x1a:0x1c]),
		Size:                   binary.LittleEndian.Uint64(b[0x1c:0x24]),
		NodeCapacity:           binary.LittleEndian.Uint32(b[0x24:0x28]),
		Origin:                 binary.LittleEndian.Uint64(b[0x28:0x30]),
		NumAllocatedBlocks:     binary.LittleEndian.Uint64(b[0x30:0x38]),
		NumAllocatedNodes:      binary.LittleEndian.Uint32(b[0x38:0x3c]),
		VolumeName:             trimNulls(b[0x3c:0x5c]),
		CreatorID:              b[0x5c],
		TsCreated:              binary.LittleEndian.Uint64(b[0x5d:0x65]),
		TsMounted:              binary.LittleEndian.Uint64(b[0x65:0x6d]),
		UniqueID:               trimNulls(b[0x6d:0x7d]),
		ErrorState:             b[0x7d],
		ErrorAction:            b[0x7e],
		AddrBitmap:             binary.LittleEndian.Uint64(b[0x7f:0x87]),
		AddrNodeTable:          binary.LittleEndian.Uint64(b[0x87:0x8f]),
		AddrData:               binary.LittleEndian.Uint64(b[0x8f:0x97]),
		AddrExtension:          binary.LittleEndian.Uint64(b[0x97:0x9f]),
		LastAllocatedNodeID:    binary.LittleEndian.Uint32(b[0x9f:0xa3]),
		LastAllocatedDataBlock: binary.LittleEndian.Uint64(b[0xa3:0xab]),
		Checksum:               checksum,
	}
	return &m, nil
}

// toBytes packs the metadata block and stamps the trailing checksum. The
// checksum is also stored back on the receiver so an in-memory Meta always
// matches what was last persisted.
func (m *Meta) toBytes() []byte {
	b := make([]byte, metaSize)

	copy(b[0x00:0x06], metaHeaderString)
	binary.LittleEndian.PutUint32(b[0x06:0x0a], m.Flags)
	binary.LittleEndian.PutUint16(b[0x0a:0x0c], m.FsMajor)
	binary.LittleEndian.PutUint16(b[0x0c:0x0e], m.Revision)
	copy(b[0x0e:0x1a], m.VendorID)
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], m.BlockSize)
	binary.LittleEndian.PutUint64(b[0x1c:0x24], m.Size)
	binary.LittleEndian.PutUint32(b[0x24:0x28], m.NodeCapacity)
	binary.LittleEndian.PutUint64(b[0x28:0x30], m.Origin)
	binary.LittleEndian.PutUint64(b[0x30:0x38], m.NumAllocatedBlocks)
	binary.LittleEndian.PutUint32(b[0x38:0x3c], m.NumAllocatedNodes)
	copy(b[0x3c:0x5c], m.VolumeName)
	b[0x5c] = m.CreatorID
	binary.LittleEndian.PutUint64(b[0x5d:0x65], m.TsCreated)
	binary.LittleEndian.PutUint64(b[0x65:0x6d], m.TsMounted)
	copy(b[0x6d:0x7d], m.UniqueID)
	b[0x7d] = m.ErrorState
	b[0x7e] = m.ErrorAction
	binary.LittleEndian.PutUint64(b[0x7f:0x87], m.AddrBitmap)
	binary.LittleEndian.PutUint64(b[0x87:0x8f], m.AddrNodeTable)
	binary.LittleEndian.PutUint64(b[0x8f:0x97], m.AddrData)
	binary.LittleEndian.PutUint64(b[0x97:0x9f], m.AddrExtension)
	binary.LittleEndian.PutUint32(b[0x9f:0xa3], m.LastAllocatedNodeID)
	binary.LittleEndian.PutUint64(b[0xa3:0xab], m.LastAllocatedDataBlock)
	binary.LittleEndian.PutUint32(b[0xab:0xaf], metaTail)

	m.Checksum = checksumCRC32(b[:metaChecksumStart])
	binary.LittleEndian.PutUint32(b[0xaf:0xb3], m.Checksum)

	return b
}

// newUniqueID draws 16 characters uniformly from [0-9A-Za-z].
func newUniqueID() string {
	id := make([]byte, uniqueIDSize)
	for i := range id {
		id[i] = uniqueIDCharset[rand.Intn(len(uniqueIDCharset))]
	}
	return string(id)
}

// CreatorIDString names a creator ID for display.
func CreatorIDString(id uint8) string {
	switch id {
	case CreatorWildcard:
		return "Wildcard (Generic Creator)"
	case CreatorMythTool:
		return "Myth File System Tool"
	case CreatorBioOS:
		return "BIO Operating System"
	}
	return "Unknown (Non-Standard Creator)"
}

// ErrorStateString names a persisted error state for display.
func ErrorStateString(state uint8) string {
	switch state {
	case ErrorStatePrenormal:
		return "Prenormal"
	case ErrorStateNormal:
		return "Normal"
	case ErrorStateAbnormal:
		return "Abnormal"
	}
	return "((Invalid, Non-Standard Error State))"
}

// ErrorActionString names a persisted error action for display.
func ErrorActionString(action uint8) string {
	switch action {
	case ErrorActionNone:
		return "Do Nothing"
	case ErrorActionReadOnly:
		return "Mount File System as Read Only"
	case ErrorActionBioizate:
		return "Bioizate (aka Kernel Panic)"
	}
	return "((Invalid, Non-Standard Error Action))"
}
