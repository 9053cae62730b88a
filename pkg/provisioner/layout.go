package provisioner

import (
	"fmt"
	"strings"
	"syscall"

	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	"github.com/seedforge-io/seedforge/pkg/partitioner"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/seedforge-io/seedforge/pkg/utils"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
)

// Layout writes a fresh GPT table realizing the session's partition list,
// waits for the kernel to materialize every partition node and formats the
// non-encrypted partitions. Partition paths are resolved here once and
// carried as data by the later stages.
func (p Provisioner) Layout() error {
	device := p.spec.Device

	rawDevice, err := p.config.Fs.RawPath(device)
	if err != nil {
		return err
	}
	disk, err := partitioner.NewDisk(rawDevice, partitioner.WithLogger(p.config.Logger))
	if err != nil {
		return err
	}

	p.config.Logger.Infof("Partitioning device %s", device)
	err = disk.NewPartitionTable(cnst.GPT, p.spec.Partitions)
	if err != nil {
		p.config.Logger.Errorf("Failed creating new partition table: %s", err)
		return err
	}

	if err = disk.Close(); err != nil {
		p.config.Logger.Errorf("Closing disk handle: %s", err)
	}

	// Sync changes and get udev to refresh the device nodes
	syscall.Sync()
	if _, err = p.config.Runner.Run("partprobe", device); err != nil {
		p.config.Logger.Warnf("partprobe on %s failed: %s", device, err)
	}
	if _, err = p.config.Runner.Run("udevadm", "settle"); err != nil {
		p.config.Logger.Warnf("udevadm settle failed: %s", err)
	}

	err = p.waitForPartitionNodes()
	if err != nil {
		return err
	}

	for _, part := range p.spec.Partitions {
		if part.Name == cnst.SecretsPartName {
			// initialized by the encryption stage instead
			continue
		}
		p.config.Logger.Debugf("Formatting partition %s as %s", part.FilesystemLabel, part.FS)
		err = partitioner.FormatDevice(p.config.Logger, p.config.Runner, part.Path, part.FS, part.FilesystemLabel)
		if err != nil {
			p.config.Logger.Errorf("Failed formatting partition %s: %s", part.FilesystemLabel, err)
			return fmt.Errorf("%w: %s", v1.ErrFormatFailed, part.FilesystemLabel)
		}
		syscall.Sync()
	}
	return nil
}

// waitForPartitionNodes polls for each expected partition node with bounded
// fixed-delay retries and records the resolved path on the partition.
func (p Provisioner) waitForPartitionNodes() error {
	for i, part := range p.spec.Partitions {
		node := PartitionPath(p.spec.Device, i+1)
		err := utils.Retry(cnst.PartNodeAttempts, cnst.PartNodeDelay, func() error {
			ok, err := fsutils.Exists(p.config.Fs, node)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("node %s not present yet", node)
			}
			return nil
		})
		if err != nil {
			p.config.Logger.Errorf("Partition node %s never appeared", node)
			return fmt.Errorf("%w: %s", v1.ErrPartitionNotCreated, node)
		}
		part.Path = node
		part.Disk = p.spec.Device
	}
	return nil
}

// PartitionPath builds the device node path of the nth partition of a disk,
// covering both plain (sdb1) and prefixed (nvme0n1p1, mmcblk0p1) naming.
func PartitionPath(device string, num int) string {
	base := strings.TrimRight(device, "0123456789")
	if base != device {
		// device name ends in a digit, the kernel inserts a 'p'
		return fmt.Sprintf("%sp%d", device, num)
	}
	return fmt.Sprintf("%s%d", device, num)
}
