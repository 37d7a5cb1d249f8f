package myth

import (
	"encoding/binary"
	"fmt"
)

const (
	entryHeaderSize = 9
	maxEntryName    = 255
)

// Entry is a single directory entry within a directory node's data
// stream. The wire format is frozen even though directory operations
// (insertion, lookup, removal) are not implemented yet: a 9-byte header
// followed by the name, padded so EntrySize is a multiple of 4. NodeType
// duplicates the target node's Type field so listings do not have to hit
// the node table.
type Entry struct {
	NodeID   uint32
	NodeType uint16
	Name     string
}

// entrySize is the on-disk size of the entry: header plus name, rounded up
// to the nearest multiple of 4.
func (e *Entry) entrySize() uint16 {
	size := uint16(entryHeaderSize + len(e.Name))
	if leftover := size % 4; leftover > 0 {
		size += 4 - leftover
	}
	return size
}

// entryFromBytes unpacks one directory entry from the start of b and
// reports how many bytes it occupied.
func entryFromBytes(b []byte) (*Entry, int, error) {
	if len(b) < entryHeaderSize {
		return nil, 0, fmt.Errorf("directory entry of length %d is less than the %d byte header", len(b), entryHeaderSize)
	}

	size := binary.LittleEndian.Uint16(b[0x6:0x8])
	nameLength := b[0x8]
	if size%4 != 0 {
		return nil, 0, fmt.Errorf("directory entry size %d is not a multiple of 4", size)
	}
	if int(size) < entryHeaderSize+int(nameLength) || int(size) > len(b) {
		return nil, 0, fmt.Errorf("directory entry size %d does not fit its %d byte name in %d remaining bytes", size, nameLength, len(b))
	}

	e := Entry{
		NodeID:   binary.LittleEndian.Uint32(b[0x0:0x4]),
		NodeType: binary.LittleEndian.Uint16(b[0x4:0x6]),
		Name:     string(b[entryHeaderSize : entryHeaderSize+int(nameLength)]),
	}
	return &e, int(size), nil
}

func (e *Entry) toBytes() ([]byte, error) {
	if len(e.Name) > maxEntryName {
		return nil, fmt.Errorf("directory entry name of length %d exceeds maximum %d", len(e.Name), maxEntryName)
	}

	b := make([]byte, e.entrySize())
	binary.LittleEndian.PutUint32(b[0x0:0x4], e.NodeID)
	binary.LittleEndian.PutUint16(b[0x4:0x6], e.NodeType)
	binary.LittleEndian.PutUint16(b[0x6:0x8], e.entrySize())
	b[0x8] = uint8(len(e.Name))
	copy(b[entryHeaderSize:], e.Name)

	return b, nil
}

// parseEntries walks a directory data stream and unpacks every entry.
func parseEntries(b []byte) ([]*Entry, error) {
	var entries []*Entry
	for i := 0; i < len(b); {
		e, size, err := entryFromBytes(b[i:])
		if err != nil {
			return nil, fmt.Errorf("failed to parse directory entry %d: %v", len(entries), err)
		}
		entries = append(entries, e)
		i += size
	}
	return entries, nil
}
