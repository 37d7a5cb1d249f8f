package myth

import "fmt"

// Each fallible operation reports its outcome through one of three closed
// status taxonomies. A non-successful status doubles as an error value so
// call sites can wrap it with context and callers can still match it with
// errors.Is. The taxonomies are deliberately not folded together.

// FormatStatus is the taxonomy of volume formatting and loading.
type FormatStatus uint8

const (
	FormatSuccessful FormatStatus = iota
	FormatMiscFailure
	FormatInvalidParameter
	FormatDiskError
	FormatInsaneBlockSize
	FormatInsufficientDiskSize
	FormatInvalidHeader
	FormatInvalidTail
	FormatInvalidChecksum
	FormatInvalidConfigHeader
)

func (s FormatStatus) String() string {
	switch s {
	case FormatSuccessful:
		return "Successful"
	case FormatMiscFailure:
		return "MiscFailure"
	case FormatInvalidParameter:
		return "InvalidParameter"
	case FormatDiskError:
		return "DiskError"
	case FormatInsaneBlockSize:
		return "InsaneBlockSize"
	case FormatInsufficientDiskSize:
		return "InsufficientDiskSize"
	case FormatInvalidHeader:
		return "InvalidHeader"
	case FormatInvalidTail:
		return "InvalidTail"
	case FormatInvalidChecksum:
		return "InvalidChecksum"
	case FormatInvalidConfigHeader:
		return "InvalidConfigHeader"
	}
	return "((null))"
}

func (s FormatStatus) Error() string {
	return fmt.Sprintf("format status %d (%s)", uint8(s), s)
}

// WriteStatus is the taxonomy of writing node data.
type WriteStatus uint8

const (
	WriteSuccessful WriteStatus = iota
	WriteNodeDoesNotExist
	WriteDiskError
	WriteAllocationError
	WriteInsufficientDiskSpace
	WriteTooBig
)

func (s WriteStatus) String() string {
	switch s {
	case WriteSuccessful:
		return "Successful"
	case WriteNodeDoesNotExist:
		return "NodeDoesNotExist"
	case WriteDiskError:
		return "DiskError"
	case WriteAllocationError:
		return "AllocationError"
	case WriteInsufficientDiskSpace:
		return "InsufficientDiskSpace"
	case WriteTooBig:
		return "TooBig"
	}
	return "((Invalid, Non-Standard Result))"
}

func (s WriteStatus) Error() string {
	return fmt.Sprintf("write node data status %d (%s)", uint8(s), s)
}

// MakeNodeStatus is the taxonomy of creating a node.
type MakeNodeStatus uint8

const (
	MakeNodeSuccessful MakeNodeStatus = iota
	MakeNodeIntermediateError
	MakeNodeExists
	MakeNodeInvalidID
	MakeNodeInvalidType
	MakeNodeDiskError
	MakeNodeAllocationError
	MakeNodeInsufficientDiskSpace
	MakeNodeDataTooBig
)

func (s MakeNodeStatus) String() string {
	switch s {
	case MakeNodeSuccessful:
		return "Successful"
	case MakeNodeIntermediateError:
		return "IntermediateError"
	case MakeNodeExists:
		return "Exists"
	case MakeNodeInvalidID:
		return "InvalidID"
	case MakeNodeInvalidType:
		return "InvalidType"
	case MakeNodeDiskError:
		return "DiskError"
	case MakeNodeAllocationError:
		return "AllocationError"
	case MakeNodeInsufficientDiskSpace:
		return "InsufficientDiskSpace"
	case MakeNodeDataTooBig:
		return "DataTooBig"
	}
	return "((Invalid, Non-Standard Result))"
}

func (s MakeNodeStatus) Error() string {
	return fmt.Sprintf("make node status %d (%s)", uint8(s), s)
}
