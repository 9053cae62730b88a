package partitions

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"
	ghwUtil "github.com/jaypipes/ghw/pkg/util"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
)

// ghwPartitionToInternalPartition transforms a block.Partition from ghw to our
// v1.Partition type
func ghwPartitionToInternalPartition(partition *block.Partition) *v1.Partition {
	return &v1.Partition{
		FilesystemLabel: partition.FilesystemLabel,
		Size:            uint(partition.SizeBytes / (1024 * 1024)), // Converts B to MB
		Name:            partition.Name,
		FS:              partition.Type,
		Flags:           nil,
		MountPoint:      partition.MountPoint,
		Path:            filepath.Join("/dev", partition.Name),
		Disk:            filepath.Join("/dev", partition.Disk.Name),
	}
}

// GetAllPartitions returns all partitions in the system for all disks
func GetAllPartitions() (v1.PartitionList, error) {
	var parts []*v1.Partition
	blockDevices, err := block.New(ghw.WithDisableTools(), ghw.WithDisableWarnings())
	if err != nil {
		return nil, err
	}
	for _, d := range blockDevices.Disks {
		for _, part := range d.Partitions {
			parts = append(parts, ghwPartitionToInternalPartition(part))
		}
	}
	return parts, nil
}

// GetDiskPartitions returns the partitions that sit on the given whole-disk
// device path.
func GetDiskPartitions(device string) (v1.PartitionList, error) {
	all, err := GetAllPartitions()
	if err != nil {
		return nil, err
	}
	var parts v1.PartitionList
	for _, p := range all {
		if p.Disk == device {
			parts = append(parts, p)
		}
	}
	return parts, nil
}

// GetPartitionFS gets the FS of a given partition device
func GetPartitionFS(partition string) (string, error) {
	// We want to have the device always prefixed with /dev
	if !strings.HasPrefix(partition, "/dev") {
		partition = filepath.Join("/dev", partition)
	}
	blockDevices, err := block.New(ghw.WithDisableTools(), ghw.WithDisableWarnings())
	if err != nil {
		return "", err
	}

	for _, disk := range blockDevices.Disks {
		for _, part := range disk.Partitions {
			if filepath.Join("/dev", part.Name) == partition {
				if part.Type == ghwUtil.UNKNOWN {
					return "", fmt.Errorf("could not find filesystem for partition %s", partition)
				}
				return part.Type, nil
			}
		}
	}
	return "", fmt.Errorf("could not find filesystem for partition %s", partition)
}

// GetDisk probes the given whole-disk device. SystemDisk is set when any of
// its partitions is mounted at / or /boot, those devices must never be
// provisioned.
func GetDisk(device string) (*v1.BlockDevice, error) {
	blockDevices, err := block.New(ghw.WithDisableTools(), ghw.WithDisableWarnings())
	if err != nil {
		return nil, err
	}
	for _, d := range blockDevices.Disks {
		if filepath.Join("/dev", d.Name) != device {
			continue
		}
		dev := &v1.BlockDevice{
			Path:      device,
			SizeBytes: d.SizeBytes,
			Model:     d.Model,
			Serial:    d.SerialNumber,
			Removable: d.IsRemovable,
		}
		for _, part := range d.Partitions {
			if part.MountPoint == "/" || part.MountPoint == "/boot" || strings.HasPrefix(part.MountPoint, "/boot/") {
				dev.SystemDisk = true
			}
		}
		return dev, nil
	}
	return nil, fmt.Errorf("device %s not present in block device listing", device)
}

// ListDisks returns every whole-disk device ghw can see, used by the
// interactive device picker. This is a convenience listing, the validator is
// the actual safety boundary.
func ListDisks() ([]*v1.BlockDevice, error) {
	blockDevices, err := block.New(ghw.WithDisableTools(), ghw.WithDisableWarnings())
	if err != nil {
		return nil, err
	}
	var disks []*v1.BlockDevice
	for _, d := range blockDevices.Disks {
		dev, err := GetDisk(filepath.Join("/dev", d.Name))
		if err != nil {
			continue
		}
		disks = append(disks, dev)
	}
	return disks, nil
}
