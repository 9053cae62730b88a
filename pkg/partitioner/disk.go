package partitioner

import (
	"fmt"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/gofrs/uuid"
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
)

type Disk struct {
	*disk.Disk
	logger v1.Logger
}

type DiskOptions func(d *Disk) error

func WithLogger(logger v1.Logger) func(d *Disk) error {
	return func(d *Disk) error {
		d.logger = logger
		return nil
	}
}

func NewDisk(device string, opts ...DiskOptions) (*Disk, error) {
	d, err := diskfs.Open(device)
	if err != nil {
		return nil, err
	}
	dev := &Disk{d, v1.NewNullLogger()}

	for _, opt := range opts {
		if err := opt(dev); err != nil {
			return nil, err
		}
	}

	return dev, nil
}

// NewPartitionTable writes a fresh GPT table materializing the given layout.
func (d *Disk) NewPartitionTable(partType string, parts v1.PartitionList) error {
	d.logger.Infof("Creating partition table for partition type %s", partType)
	var table partition.Table
	switch partType {
	case cnst.GPT:
		table = &gpt.Table{
			ProtectiveMBR:      true,
			Partitions:         specPartsToDiskfsGPTParts(parts, d.Size, d.LogicalBlocksize),
			LogicalSectorSize:  int(d.LogicalBlocksize),
			PhysicalSectorSize: int(d.PhysicalBlocksize),
		}
	default:
		return fmt.Errorf("invalid partition type: %s", partType)
	}
	err := d.Partition(table)
	if err != nil {
		return err
	}
	d.logger.Infof("Created partition table for partition type %s", partType)
	return nil
}

func getSectorEndFromSize(start, size uint64, sectorSize int64) uint64 {
	return (size / uint64(sectorSize)) + start - 1
}

func hasFlag(part *v1.Partition, flag string) bool {
	for _, f := range part.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func specPartsToDiskfsGPTParts(parts v1.PartitionList, diskSize int64, sectorSize int64) []*gpt.Partition {
	var partitions []*gpt.Partition
	for index, part := range parts {
		var start uint64
		var end uint64
		var size uint64
		if len(partitions) == 0 {
			// first partition, align to 1Mb
			start = 1024 * 1024 / uint64(sectorSize)
		} else {
			// get latest partition end, sum 1
			start = partitions[len(partitions)-1].End + 1
		}

		// part.Size 0 means take over whats left on the disk
		if part.Size == 0 {
			// Remember to add the 1Mb alignment to total size
			var sizeUsed = uint64(1024 * 1024)
			for _, p := range partitions {
				sizeUsed = sizeUsed + p.Size
			}
			// leave 1Mb at the end for backup GPT header
			size = uint64(diskSize) - sizeUsed - uint64(1024*1024)
		} else {
			// Change it to bytes
			// If its the last partition to do, leave 1Mb at the end for the
			// backup GPT header
			if index == len(parts)-1 {
				size = uint64(part.Size*1024*1024) - uint64(1024*1024)
			} else {
				size = uint64(part.Size * 1024 * 1024)
			}
		}

		end = getSectorEndFromSize(start, size, sectorSize)

		switch {
		case hasFlag(part, "esp"):
			// EFI system partition, firmware needs the type and the system
			// partition attribute
			partitions = append(partitions, &gpt.Partition{
				Start:      start,
				End:        end,
				Type:       gpt.EFISystemPartition,
				Size:       size,
				GUID:       uuid.NewV5(uuid.NamespaceURL, part.FilesystemLabel).String(), // set known predictable UUID
				Name:       part.Name,
				Attributes: 0x1, // system partition flag
			})
		case hasFlag(part, "boot"):
			partitions = append(partitions, &gpt.Partition{
				Start:      start,
				End:        end,
				Type:       gpt.LinuxFilesystem,
				Size:       size,
				GUID:       uuid.NewV5(uuid.NamespaceURL, part.FilesystemLabel).String(),
				Name:       part.Name,
				Attributes: 0x4, // legacy bootable flag
			})
		default:
			partitions = append(partitions, &gpt.Partition{
				Start: start,
				End:   end,
				Type:  gpt.LinuxFilesystem,
				Size:  size,
				GUID:  uuid.NewV5(uuid.NamespaceURL, part.FilesystemLabel).String(),
				Name:  part.Name,
			})
		}
	}
	return partitions
}
