// Package myth creates, inspects and mutates Myth file-system volumes
// stored inside a backing image file. The on-disk format is fixed: a
// bootstrap chunk at byte 2, one metadata block at the configured origin,
// a free-block bitmap, a table of 256-byte nodes, and the data region.
// All integers are little-endian and all structures are tightly packed.
//
// Access is strictly single-threaded: a FileSystem owns its backing file
// for the duration of every operation and callers sharing a volume across
// goroutines must serialize externally.
package myth

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/mythfs/go-mythfs/util"
)

// FileSystem is a loaded Myth volume: the backing image plus the single
// authoritative copy of its metadata block. The metadata is rewritten to
// disk after every mutation that changes allocator state.
type FileSystem struct {
	meta *Meta
	file util.File

	// LegacyQuirks reproduces three bookkeeping quirks of the original
	// tool: the old content's block total (computed from its full size) is
	// subtracted from NumAllocatedNodes instead of NumAllocatedBlocks,
	// NumAllocatedNodes is incremented on every data write, and TsCreated
	// is overwritten on every data write. Off by default.
	LegacyQuirks bool

	// now is the volume's time source, seconds since the Myth epoch.
	// Swappable for tests.
	now func() uint64
}

// Meta returns the volume metadata.
func (fs *FileSystem) Meta() *Meta {
	return fs.meta
}

// Equal compares two loaded volumes by their metadata and backing file.
func (fs *FileSystem) Equal(a *FileSystem) bool {
	return fs.file == a.file && fs.meta.equal(a.meta)
}

// writeMeta recomputes the metadata checksum and persists the metadata
// block at its origin.
func (fs *FileSystem) writeMeta() error {
	b := fs.meta.toBytes()
	addr := int64(fs.meta.Origin * uint64(fs.meta.BlockSize))
	if _, err := fs.file.WriteAt(b, addr); err != nil {
		return fmt.Errorf("could not write metadata at block %d (raw address %#x): %v: %w", fs.meta.Origin, addr, err, FormatDiskError)
	}
	return nil
}

// Create formats a Myth file system onto f according to meta, which must
// carry BlockSize, Size (in blocks), Origin, VendorID, VolumeName, FsMajor
// and Revision. Layout addresses, counters, identity and timestamps are
// computed here and written back into meta. bytesPerNodeRatio is how many
// volume bytes back one node slot; one node slot is reserved for the
// invalid ID 0.
//
// Create writes the metadata block, zeroes the bitmap region and writes
// the bootstrap chunk. It does not create the root directory node; the
// caller makes node 2 with MakeNode, the way the tool does.
func Create(f util.WritableFile, meta *Meta, bytesPerNodeRatio uint64) (*FileSystem, error) {
	if bytesPerNodeRatio < uint64(MinBlockSize) {
		return nil, fmt.Errorf("bytes per node ratio cannot be smaller than %d, but got %d: %w", MinBlockSize, bytesPerNodeRatio, FormatInvalidParameter)
	}
	if meta.BlockSize == 0 || meta.BlockSize%MinBlockSize != 0 {
		return nil, fmt.Errorf("block size must be a non-zero multiple of %d, but got %d: %w", MinBlockSize, meta.BlockSize, FormatInsaneBlockSize)
	}

	blockSize := uint64(meta.BlockSize)
	if err := f.Truncate(int64(meta.Size * blockSize)); err != nil {
		return nil, fmt.Errorf("could not truncate the image to %d blocks of %d bytes: %v: %w", meta.Size, blockSize, err, FormatDiskError)
	}

	meta.AddrBitmap = meta.Origin + 1
	if meta.Size <= meta.AddrBitmap {
		return nil, fmt.Errorf("disk of %d blocks cannot even hold the metadata block at origin %d: %w", meta.Size, meta.Origin, FormatInsufficientDiskSize)
	}
	trackedPerBitmapBlock := blockSize * 8 // each bitmap byte tracks 8 blocks

	// The bitmap must cover the rest of the disk, except the part occupied
	// by the bitmap itself; size it for everything past it first, then cut
	// off its own coverage.
	bitmapBlocks := divCeil(meta.Size-meta.AddrBitmap, trackedPerBitmapBlock)
	bitmapBlocks -= bitmapBlocks / trackedPerBitmapBlock

	zero := make([]byte, bitmapBlocks*blockSize)
	if _, err := f.WriteAt(zero, int64(meta.AddrBitmap*blockSize)); err != nil {
		return nil, fmt.Errorf("could not write clear bytes to the bitmap at block %d: %v: %w", meta.AddrBitmap, err, FormatDiskError)
	}

	meta.AddrNodeTable = meta.AddrBitmap + bitmapBlocks
	meta.NodeCapacity = uint32(meta.Size * blockSize / bytesPerNodeRatio)
	nodeTableBlocks := uint64(meta.NodeCapacity) / (blockSize / NodeSize)
	meta.AddrData = meta.AddrNodeTable + nodeTableBlocks

	// The size arithmetic above needs the full capacity; only after it is
	// done does the slot for the invalid ID 0 come off.
	meta.NodeCapacity--

	meta.LastAllocatedDataBlock = meta.AddrData
	meta.LastAllocatedNodeID = NodeIDInvalid

	if meta.Size <= meta.AddrData {
		return nil, fmt.Errorf("disk of %d blocks is too small to contain the file system, data region would start at block %d: %w", meta.Size, meta.AddrData, FormatInsufficientDiskSize)
	}

	meta.ErrorState = ErrorStateNormal
	meta.ErrorAction = ErrorActionNone

	meta.TsCreated = bioTimeNow()
	meta.TsMounted = 0 // not mounted yet

	meta.UniqueID = newUniqueID()

	// Everything up to the node table counts as allocated: the reserved
	// space before the metadata block, the metadata block and the bitmap.
	meta.NumAllocatedBlocks = meta.AddrNodeTable
	meta.NumAllocatedNodes = 0
	meta.AddrExtension = 0
	meta.CreatorID = CreatorMythTool

	log.Debugf("formatting %q: bitmap [%d,%d), node table [%d,%d), data [%d,%d), node capacity %d",
		meta.VolumeName, meta.AddrBitmap, meta.AddrNodeTable, meta.AddrNodeTable, meta.AddrData, meta.AddrData, meta.Size, meta.NodeCapacity)

	// The metadata block owns a full block: content first, zero padding to
	// the block boundary.
	block := make([]byte, blockSize)
	copy(block, meta.toBytes())
	if _, err := f.WriteAt(block, int64(meta.Origin*blockSize)); err != nil {
		return nil, fmt.Errorf("could not write metadata to the disk: %v: %w", err, FormatDiskError)
	}

	chunk := configChunk{
		bytesPerBlock:    meta.BlockSize,
		fileSystemOffset: meta.Origin,
	}
	if _, err := f.WriteAt(chunk.toBytes(), configChunkOffset); err != nil {
		return nil, fmt.Errorf("could not write configuration chunk to the disk: %v: %w", err, FormatDiskError)
	}

	return &FileSystem{
		meta: meta,
		file: f,
		now:  bioTimeNow,
	}, nil
}

// Read loads a Myth file system from f: the bootstrap chunk locates the
// metadata block, whose header, tail and checksum are then verified. On
// any validation failure nothing is returned.
func Read(f util.File) (*FileSystem, error) {
	// From the disk start, jump over the short-jump reserved space.
	cb := make([]byte, configChunkSize)
	if _, err := f.ReadAt(cb, configChunkOffset); err != nil {
		return nil, fmt.Errorf("could not read configuration chunk from the disk: %v: %w", err, FormatDiskError)
	}
	chunk, err := configChunkFromBytes(cb)
	if err != nil {
		return nil, err
	}

	addr := int64(chunk.fileSystemOffset * uint64(chunk.bytesPerBlock))
	mb := make([]byte, metaSize)
	if _, err := f.ReadAt(mb, addr); err != nil {
		return nil, fmt.Errorf("could not read file system metadata at block %d (raw address %d): %v: %w", chunk.fileSystemOffset, addr, err, FormatDiskError)
	}

	meta, err := metaFromBytes(mb)
	if err != nil {
		return nil, err
	}

	return &FileSystem{
		meta: meta,
		file: f,
		now:  bioTimeNow,
	}, nil
}

// FindNodeID returns an unused node ID, skipping the reserved IDs 0
// (invalid), 1 (journal) and 2 (root). The node table blocks are scanned
// directly, first free slot wins.
func (fs *FileSystem) FindNodeID() (uint32, error) {
	nodesPerBlock := uint64(fs.meta.BlockSize) / NodeSize

	b := make([]byte, fs.meta.BlockSize)
	for block := fs.meta.AddrNodeTable; block < fs.meta.AddrData; block++ {
		if _, err := fs.file.ReadAt(b, int64(block*uint64(fs.meta.BlockSize))); err != nil {
			return NodeIDInvalid, fmt.Errorf("could not read node table block %d: %v: %w", block, err, WriteDiskError)
		}

		for nest := uint64(0); nest < nodesPerBlock; nest++ {
			id := fs.meta.resolveNodeID(nodePos{TableBlock: block, Nest: uint16(nest)})
			if id == NodeIDInvalid || id == NodeIDJournal || id == NodeIDRoot {
				continue
			}
			if id > fs.meta.NodeCapacity {
				break
			}
			if binary.LittleEndian.Uint32(b[nest*NodeSize:]) == NodeIDInvalid {
				return id, nil
			}
		}
	}

	return NodeIDInvalid, fmt.Errorf("the node table has no free slots left")
}
