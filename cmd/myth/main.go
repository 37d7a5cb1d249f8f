// Command myth is the hosted tool for Myth file-system images: it formats
// a volume inside a disk image, dumps its metadata, dumps single nodes and
// imports host files onto the volume.
package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/djherbis/times.v1"

	"github.com/mythfs/go-mythfs/filesystem/myth"
)

var flagDebug bool

var rootCmd = &cobra.Command{
	Use:           "myth",
	Short:         "Create and inspect Myth file-system images",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagDebug {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func main() {
	rand.Seed(time.Now().UnixNano())

	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(makeFSCmd, readFSCmd, readNodeCmd, createOnRootCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

var flagBytesPerNodeRatio uint64

var makeFSCmd = &cobra.Command{
	Use:   "makefs DISK BLOCK_SIZE FS_OFFSET VOLUME_NAME",
	Short: "Format a Myth file system onto a disk image and create its root node",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		diskPath := args[0]

		blockSize, err := strconv.Atoi(args[1])
		if err != nil || blockSize <= 0 || blockSize > 0xffff {
			return fmt.Errorf("block size must be between 1 and %d, but the provided value was %q", 0xffff, args[1])
		}
		fsOffset, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("file system offset %q is not a valid block count", args[2])
		}
		volumeName := args[3]
		if len(volumeName) > myth.VolumeNameSize {
			return fmt.Errorf("the provided volume name has a length of %d, but the maximum is %d", len(volumeName), myth.VolumeNameSize)
		}

		f, err := os.OpenFile(diskPath, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("could not open disk from path %q: %v", diskPath, err)
		}
		defer f.Close()

		rawDiskSize, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("could not determine the size of %q: %v", diskPath, err)
		}

		meta := &myth.Meta{
			VendorID:   "MythFsTool",
			VolumeName: volumeName,
			FsMajor:    myth.LatestMajor,
			Revision:   myth.LatestRevision,
			BlockSize:  uint16(blockSize),
			Size:       uint64(rawDiskSize) / uint64(blockSize),
			Origin:     fsOffset,
		}

		fs, err := myth.Create(f, meta, flagBytesPerNodeRatio)
		if err != nil {
			return fmt.Errorf("MakeFS failed: %w", err)
		}

		// The root directory node, resolved by "FS/" at the beginning of a
		// path. Fresh volumes have no entries, so it carries no data.
		log.Info("file system was made successfully, creating root node")
		root := &myth.Node{
			ID:        myth.NodeIDRoot,
			Type:      myth.NodeTypeDirectory,
			Flags:     myth.NodeFlagSystem,
			CreatorID: myth.CreatorMythTool,
			Owner:     myth.OwnerDisowned,
		}
		if err := fs.MakeNode(root, nil); err != nil {
			return fmt.Errorf("MakeFS failed creating the root node: %w", err)
		}

		log.Info("MakeFS succeeded, the file system was made successfully")
		return nil
	},
}

var readFSCmd = &cobra.Command{
	Use:   "readfs DISK",
	Short: "Print the volume metadata of a Myth file system",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("could not open disk from path %q: %v", args[0], err)
		}
		defer f.Close()

		fs, err := myth.Read(f)
		if err != nil {
			return fmt.Errorf("ReadFS failed: %w", err)
		}

		m := fs.Meta()
		fmt.Printf("File System Metadata Information:\n"+
			" UniqueID: %s\n"+
			" Flags: %x (decimal %d)\n"+
			" FsMajor: %d\n"+
			" Revision: %d\n"+
			" VendorID: %s\n"+
			" BlockSize: %d\n"+
			" Size: %d\n"+
			" NodeCapacity: %d\n"+
			" Origin: %d\n"+
			" NumAllocatedBlocks: %d\n"+
			" NumAllocatedNodes: %d\n"+
			" VolumeName: %s\n"+
			" CreatorID: %d (%s)\n"+
			" TsCreated: %d\n"+
			" TsMounted: %d\n"+
			" ErrorState: %d (%s)\n"+
			" ErrorAction: %d (%s)\n"+
			" AddrBitmap: %d\n"+
			" AddrNodeTable: %d\n"+
			" AddrData: %d\n"+
			" AddrExtension: %d\n"+
			" LastAllocatedNodeID: %d\n"+
			" LastAllocatedDataBlock: %d\n"+
			" Checksum: %x (decimal %d)\n",
			m.UniqueID, m.Flags, m.Flags, m.FsMajor, m.Revision, m.VendorID,
			m.BlockSize, m.Size, m.NodeCapacity, m.Origin,
			m.NumAllocatedBlocks, m.NumAllocatedNodes, m.VolumeName,
			m.CreatorID, myth.CreatorIDString(m.CreatorID),
			m.TsCreated, m.TsMounted,
			m.ErrorState, myth.ErrorStateString(m.ErrorState),
			m.ErrorAction, myth.ErrorActionString(m.ErrorAction),
			m.AddrBitmap, m.AddrNodeTable, m.AddrData, m.AddrExtension,
			m.LastAllocatedNodeID, m.LastAllocatedDataBlock,
			m.Checksum, m.Checksum,
		)

		log.Info("ReadFS succeeded, the file system was read successfully")
		return nil
	},
}

var readNodeCmd = &cobra.Command{
	Use:   "readnode DISK NODE_ID",
	Short: "Print a single node record of a Myth file system",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("node ID %q is not a valid node ID", args[1])
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("could not open disk from path %q: %v", args[0], err)
		}
		defer f.Close()

		fs, err := myth.Read(f)
		if err != nil {
			return fmt.Errorf("ReadNode failed: %w", err)
		}

		node, err := fs.GetNode(uint32(nodeID))
		if err != nil {
			return fmt.Errorf("ReadNode failed: %w", err)
		}

		fmt.Printf("File System Node Information:\n"+
			" ID: %d (%s)\n"+
			" Type: %d (%s)\n"+
			" Flags: %#x (decimal %d)\n"+
			" Size: %d\n"+
			" CreatorID: %d (%s)\n"+
			" TsCreated: %d\n"+
			" TsAccessed: %d\n"+
			" TsModified: %d\n"+
			" Owner: %d (%s)\n"+
			" HardLinkCount: %d\n"+
			" InlineData: ((Not Interface Presentable.))\n",
			node.ID, nodeIDLabel(node.ID),
			node.Type, myth.NodeTypeString(node.Type),
			node.Flags, node.Flags, node.Size,
			node.CreatorID, myth.CreatorIDString(node.CreatorID),
			node.TsCreated, node.TsAccessed, node.TsModified,
			node.Owner, myth.OwnerString(node.Owner),
			node.HardLinkCount,
		)
		for i, block := range node.DirectData {
			fmt.Printf(" DirectData[%d]: %d\n", i, block)
		}
		fmt.Printf(" AddrSinglyIndirect: %d\n AddrDoublyIndirect: %d\n AddrTriplyIndirect: %d\n",
			node.AddrSinglyIndirect, node.AddrDoublyIndirect, node.AddrTriplyIndirect)

		log.Info("ReadNode succeeded, node was read successfully")
		return nil
	},
}

var createOnRootCmd = &cobra.Command{
	Use:   "createonroot DISK SOURCE_FILE IS_SYSTEM",
	Short: "Import a host file onto the volume as a new file node",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		diskPath, sourcePath := args[0], args[1]
		isSystem, err := strconv.ParseBool(args[2])
		if err != nil {
			return fmt.Errorf("IS_SYSTEM must be 0 or 1, but the provided value was %q", args[2])
		}

		f, err := os.OpenFile(diskPath, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("could not open disk from path %q: %v", diskPath, err)
		}
		defer f.Close()

		fs, err := myth.Read(f)
		if err != nil {
			return fmt.Errorf("CreateOnRoot failed: %w", err)
		}

		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return fmt.Errorf("could not read source file %q: %v", sourcePath, err)
		}
		if ts, terr := times.Stat(sourcePath); terr == nil {
			log.Debugf("importing %q: %d bytes, modified %s", sourcePath, len(data), ts.ModTime().UTC().Format(time.RFC3339))
		}

		nodeID, err := fs.FindNodeID()
		if err != nil {
			return fmt.Errorf("CreateOnRoot failed: %w", err)
		}

		flags := myth.NodeFlagClear
		if isSystem {
			flags = myth.NodeFlagSystem
		}
		node := &myth.Node{
			ID:        nodeID,
			Type:      myth.NodeTypeFile,
			Flags:     flags,
			CreatorID: myth.CreatorMythTool,
			Owner:     myth.OwnerDisowned,
		}
		if err := fs.MakeNode(node, data); err != nil {
			return fmt.Errorf("CreateOnRoot failed: %w", err)
		}

		log.Infof("CreateOnRoot succeeded, file was made successfully, node ID = %d", node.ID)
		return nil
	},
}

func nodeIDLabel(id uint32) string {
	switch id {
	case myth.NodeIDJournal:
		return "JR/"
	case myth.NodeIDRoot:
		return "FS/"
	}
	return "Standard File System Node"
}

func init() {
	makeFSCmd.Flags().Uint64Var(&flagBytesPerNodeRatio, "bytes-per-node-ratio", myth.DefaultBytesPerNodeRatio, "volume bytes backing one node slot")
}
