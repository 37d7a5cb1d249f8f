package myth

import (
	"errors"
	"fmt"
)

// blockFiller lays one node's overflow payload out over a pre-selected
// list of free blocks. The list holds exactly the budget's TotalBlocks
// entries; the filler consumes data leaves and index blocks from it in
// tier order: direct leaves, then the singly index and its leaves, then
// the doubly tier, then the triply tier.
type blockFiller struct {
	fs       *FileSystem
	blocks   []uint64
	cursor   int
	payload  []byte
	dataLeft uint64
}

func (f *blockFiller) next() uint64 {
	b := f.blocks[f.cursor]
	f.cursor++
	return b
}

// writeLeaf writes the next payload chunk into a data block and marks the
// block allocated. The final leaf is usually partial; the slack keeps
// whatever the block held before.
func (f *blockFiller) writeLeaf(block uint64) error {
	n := minInt(len(f.payload), int(f.fs.meta.BlockSize))
	if _, err := f.fs.file.WriteAt(f.payload[:n], int64(block*uint64(f.fs.meta.BlockSize))); err != nil {
		return fmt.Errorf("could not write data block %d: %v: %w", block, err, WriteDiskError)
	}
	f.payload = f.payload[n:]
	f.dataLeft--
	return f.fs.SetBlock(block, BlockAllocated)
}

// fillSingly consumes one index block plus up to ptrsPerBlock data leaves
// and persists the index as a packed pointer array.
func (f *blockFiller) fillSingly() (uint64, error) {
	ptrsPerBlock := uint64(f.fs.meta.BlockSize) / 8
	index := f.next()

	ptrs := make([]uint64, 0, ptrsPerBlock)
	for uint64(len(ptrs)) < ptrsPerBlock && f.dataLeft > 0 {
		leaf := f.next()
		if err := f.writeLeaf(leaf); err != nil {
			return 0, err
		}
		ptrs = append(ptrs, leaf)
	}

	if err := f.fs.writeBlockPointers(index, ptrs); err != nil {
		return 0, err
	}
	if err := f.fs.SetBlock(index, BlockAllocated); err != nil {
		return 0, err
	}
	return index, nil
}

// fillDoubly consumes one index block whose children are singly indirect
// blocks.
func (f *blockFiller) fillDoubly() (uint64, error) {
	ptrsPerBlock := uint64(f.fs.meta.BlockSize) / 8
	index := f.next()

	ptrs := make([]uint64, 0, ptrsPerBlock)
	for uint64(len(ptrs)) < ptrsPerBlock && f.dataLeft > 0 {
		singly, err := f.fillSingly()
		if err != nil {
			return 0, err
		}
		ptrs = append(ptrs, singly)
	}

	if err := f.fs.writeBlockPointers(index, ptrs); err != nil {
		return 0, err
	}
	if err := f.fs.SetBlock(index, BlockAllocated); err != nil {
		return 0, err
	}
	return index, nil
}

// fillTriply consumes one index block whose children are doubly indirect
// blocks.
func (f *blockFiller) fillTriply() (uint64, error) {
	ptrsPerBlock := uint64(f.fs.meta.BlockSize) / 8
	index := f.next()

	ptrs := make([]uint64, 0, ptrsPerBlock)
	for uint64(len(ptrs)) < ptrsPerBlock && f.dataLeft > 0 {
		doubly, err := f.fillDoubly()
		if err != nil {
			return 0, err
		}
		ptrs = append(ptrs, doubly)
	}

	if err := f.fs.writeBlockPointers(index, ptrs); err != nil {
		return 0, err
	}
	if err := f.fs.SetBlock(index, BlockAllocated); err != nil {
		return 0, err
	}
	return index, nil
}

// WriteNodeData replaces the content of an existing node with data. The
// old content's blocks are returned to the bitmap, the first 64 bytes go
// inline, the rest is laid out over direct and indirect blocks, and the
// node record and volume metadata are rewritten. The metadata block is not
// rewritten on error paths, so a failure mid-write can leave the volume
// needing a consistency pass.
func (fs *FileSystem) WriteNodeData(nodeID uint32, data []byte) error {
	pos := fs.meta.resolveNodePos(nodeID)

	b := make([]byte, NodeSize)
	if _, err := fs.file.ReadAt(b, int64(pos.RawAddress)); err != nil {
		return fmt.Errorf("could not read node %d on disk: %v: %w", nodeID, err, WriteDiskError)
	}
	node, err := nodeFromBytes(b)
	if err != nil {
		return fmt.Errorf("node %d: %v: %w", nodeID, err, WriteDiskError)
	}
	if node.ID == NodeIDInvalid {
		return fmt.Errorf("node %d has no record in the node table: %w", nodeID, WriteNodeDoesNotExist)
	}

	// A node whose creation stamp is still zero was only just reserved in
	// the table and has never been written; that distinction drives the
	// corrected counter and timestamp handling below.
	fresh := node.TsCreated == 0

	// Settle the old content's share of the counters before its blocks are
	// freed. The original tool subtracted the old block total from
	// NumAllocatedNodes; LegacyQuirks reproduces that.
	if fs.LegacyQuirks {
		if old, cerr := fs.meta.calculateDataStorage(node.Size); cerr == nil {
			fs.meta.NumAllocatedNodes -= uint32(old.TotalBlocks)
		}
	} else {
		var overflow uint64
		if node.Size > InlineDataSize {
			overflow = node.Size - InlineDataSize
		}
		if old, cerr := fs.meta.calculateDataStorage(overflow); cerr == nil {
			fs.meta.NumAllocatedBlocks -= old.TotalBlocks
		}
	}

	// Return every block of the old content to the bitmap.
	for _, block := range node.DirectData {
		if block == 0 {
			continue
		}
		if err := fs.setDirectBlock(block, BlockFree); err != nil {
			return err
		}
	}
	if err := fs.setBlocksBySinglyIndirect(node.AddrSinglyIndirect, BlockFree); err != nil {
		return err
	}
	if err := fs.setBlocksByDoublyIndirect(node.AddrDoublyIndirect, BlockFree); err != nil {
		return err
	}
	if err := fs.setBlocksByTriplyIndirect(node.AddrTriplyIndirect, BlockFree); err != nil {
		return err
	}

	// What gets written depends on the data length, so start from clean
	// storage fields.
	node.InlineData = [InlineDataSize]byte{}
	node.DirectData = [DirectDataBlocks]uint64{}
	node.AddrSinglyIndirect = 0
	node.AddrDoublyIndirect = 0
	node.AddrTriplyIndirect = 0
	node.Size = uint64(len(data))

	copy(node.InlineData[:], data)

	var storage dataStorage
	var lastBlock uint64
	if len(data) > InlineDataSize {
		overflow := data[InlineDataSize:]

		storage, err = fs.meta.calculateDataStorage(uint64(len(overflow)))
		if err != nil {
			return err
		}

		snapshot, err := fs.loadBitmap()
		if err != nil {
			return err
		}
		blocks, err := fs.findFreeBlocks(snapshot, storage.TotalBlocks)
		if err != nil {
			return fmt.Errorf("storing %d bytes of node %d data: %w", node.Size, nodeID, err)
		}
		lastBlock = blocks[len(blocks)-1]

		filler := &blockFiller{
			fs:       fs,
			blocks:   blocks,
			payload:  overflow,
			dataLeft: storage.DataBlocks,
		}
		for i := 0; i < DirectDataBlocks && filler.dataLeft > 0; i++ {
			block := filler.next()
			if err := filler.writeLeaf(block); err != nil {
				return err
			}
			node.DirectData[i] = block
		}
		if filler.dataLeft > 0 {
			if node.AddrSinglyIndirect, err = filler.fillSingly(); err != nil {
				return err
			}
		}
		if filler.dataLeft > 0 {
			if node.AddrDoublyIndirect, err = filler.fillDoubly(); err != nil {
				return err
			}
		}
		if filler.dataLeft > 0 {
			if node.AddrTriplyIndirect, err = filler.fillTriply(); err != nil {
				return err
			}
		}
	}

	now := fs.now()
	if fs.LegacyQuirks || node.TsCreated == 0 {
		node.TsCreated = now
	}
	node.TsAccessed = now
	node.TsModified = now

	if _, err := fs.file.WriteAt(node.toBytes(), int64(pos.RawAddress)); err != nil {
		return fmt.Errorf("could not write node %d to its position on disk (block %d, nest %d): %v: %w", node.ID, pos.TableBlock, pos.Nest, err, WriteDiskError)
	}

	fs.meta.NumAllocatedBlocks += storage.TotalBlocks
	if fs.LegacyQuirks || fresh {
		fs.meta.NumAllocatedNodes++
	}
	fs.meta.LastAllocatedNodeID = node.ID
	if lastBlock != 0 {
		fs.meta.LastAllocatedDataBlock = lastBlock
	}

	if err := fs.writeMeta(); err != nil {
		return fmt.Errorf("could not overwrite volume metadata: %v: %w", err, WriteDiskError)
	}
	return nil
}

// MakeNode creates a new node from the caller-supplied record and writes
// its content. The record is written to its slot before the data so the
// write path finds an existing node; write failures are translated into
// the node-creation taxonomy.
func (fs *FileSystem) MakeNode(node *Node, data []byte) error {
	if node.ID == NodeIDInvalid {
		return fmt.Errorf("nodes cannot have ID 0, it represents invalidity: %w", MakeNodeInvalidID)
	}
	if fs.NodeExists(node.ID) {
		return fmt.Errorf("node %d already exists: %w", node.ID, MakeNodeExists)
	}
	if node.Type != NodeTypeFile && node.Type != NodeTypeDirectory && node.Type != NodeTypeSoftLink {
		return fmt.Errorf("node type %d does not correspond to any valid node type: %w", node.Type, MakeNodeInvalidType)
	}

	pos := fs.meta.resolveNodePos(node.ID)
	if _, err := fs.file.WriteAt(node.toBytes(), int64(pos.RawAddress)); err != nil {
		return fmt.Errorf("could not write to node %d's location on disk: %v: %w", node.ID, err, MakeNodeDiskError)
	}

	if err := fs.WriteNodeData(node.ID, data); err != nil {
		return fmt.Errorf("writing node %d data: %v: %w", node.ID, err, makeNodeStatusFor(err))
	}
	return nil
}

// makeNodeStatusFor translates a write-path status into the node-creation
// taxonomy.
func makeNodeStatusFor(err error) MakeNodeStatus {
	switch {
	case errors.Is(err, WriteNodeDoesNotExist):
		return MakeNodeIntermediateError
	case errors.Is(err, WriteDiskError):
		return MakeNodeDiskError
	case errors.Is(err, WriteAllocationError):
		return MakeNodeAllocationError
	case errors.Is(err, WriteInsufficientDiskSpace):
		return MakeNodeInsufficientDiskSpace
	case errors.Is(err, WriteTooBig):
		return MakeNodeDataTooBig
	}
	return MakeNodeIntermediateError
}

// DeleteNode is reserved; node removal is not implemented yet.
func (fs *FileSystem) DeleteNode(nodeID uint32) error {
	return fmt.Errorf("deleting nodes is not implemented")
}

// ReadNodeData reassembles a node's content: the inline bytes first, then
// the direct blocks, then the singly, doubly and triply indirect subtrees,
// up to Size bytes total.
func (fs *FileSystem) ReadNodeData(nodeID uint32) ([]byte, error) {
	node, err := fs.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, node.Size)
	inline := minU64(node.Size, InlineDataSize)
	out = append(out, node.InlineData[:inline]...)
	remaining := node.Size - inline

	readLeaf := func(block uint64) error {
		n := minU64(remaining, uint64(fs.meta.BlockSize))
		b := make([]byte, n)
		if _, err := fs.file.ReadAt(b, int64(block*uint64(fs.meta.BlockSize))); err != nil {
			return fmt.Errorf("could not read data block %d: %v: %w", block, err, WriteDiskError)
		}
		out = append(out, b...)
		remaining -= n
		return nil
	}

	for _, block := range node.DirectData {
		if remaining == 0 || block == 0 {
			break
		}
		if err := readLeaf(block); err != nil {
			return nil, err
		}
	}

	readSingly := func(addr uint64) error {
		ptrs, err := fs.readBlockPointers(addr)
		if err != nil {
			return err
		}
		for _, ptr := range ptrs {
			if remaining == 0 || ptr == 0 {
				break
			}
			if err := readLeaf(ptr); err != nil {
				return err
			}
		}
		return nil
	}

	if remaining > 0 && node.AddrSinglyIndirect != 0 {
		if err := readSingly(node.AddrSinglyIndirect); err != nil {
			return nil, err
		}
	}
	if remaining > 0 && node.AddrDoublyIndirect != 0 {
		ptrs, err := fs.readBlockPointers(node.AddrDoublyIndirect)
		if err != nil {
			return nil, err
		}
		for _, ptr := range ptrs {
			if remaining == 0 || ptr == 0 {
				break
			}
			if err := readSingly(ptr); err != nil {
				return nil, err
			}
		}
	}
	if remaining > 0 && node.AddrTriplyIndirect != 0 {
		doubles, err := fs.readBlockPointers(node.AddrTriplyIndirect)
		if err != nil {
			return nil, err
		}
		for _, doubly := range doubles {
			if remaining == 0 || doubly == 0 {
				break
			}
			singlies, err := fs.readBlockPointers(doubly)
			if err != nil {
				return nil, err
			}
			for _, ptr := range singlies {
				if remaining == 0 || ptr == 0 {
					break
				}
				if err := readSingly(ptr); err != nil {
					return nil, err
				}
			}
		}
	}

	if remaining > 0 {
		return nil, fmt.Errorf("node %d content is %d bytes short of its recorded size %d", nodeID, remaining, node.Size)
	}
	return out, nil
}
