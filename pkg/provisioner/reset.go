package provisioner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	"github.com/seedforge-io/seedforge/pkg/luks"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/seedforge-io/seedforge/pkg/utils/partitions"
)

// StepStatus classifies the outcome of a single reset step.
type StepStatus int

const (
	StepOK StepStatus = iota
	// StepRecovered means the step failed but the reset continues, the
	// failure is carried for diagnosis.
	StepRecovered
	StepFatal
)

// StepResult records the outcome of one reset step.
type StepResult struct {
	Name   string
	Status StepStatus
	Err    error
}

// Reset brings the target device to a known-empty state, tolerating any
// half-provisioned leftovers of an interrupted prior run. Every step is
// best-effort and logged. The only hard failure is the device still not
// being writable once all steps ran, so running Reset twice in a row is a
// no-op after the first successful pass.
func (p Provisioner) Reset() ([]StepResult, error) {
	device := p.spec.Device
	p.config.Logger.Infof("Resetting device %s", device)

	results := []StepResult{
		p.step("unmount-partitions", p.unmountDevicePartitions),
		p.step("close-stale-mappings", p.closeStaleMappings),
		p.step("close-header-holders", p.closeHeaderHolders),
		p.step("reread-partition-table", p.rereadPartitionTable),
		p.step("erase-signatures", p.eraseSignatures),
		p.step("zero-edges", p.zeroDeviceEdges),
	}

	if err := p.checkWritable(); err != nil {
		results = append(results, StepResult{Name: "check-writable", Status: StepFatal, Err: err})
		return results, err
	}
	results = append(results, StepResult{Name: "check-writable", Status: StepOK})
	return results, nil
}

func (p Provisioner) step(name string, fn func() error) StepResult {
	err := fn()
	if err != nil {
		p.config.Logger.Warnf("Reset step %s failed, continuing: %s", name, err)
		return StepResult{Name: name, Status: StepRecovered, Err: err}
	}
	p.config.Logger.Debugf("Reset step %s done", name)
	return StepResult{Name: name, Status: StepOK}
}

// unmountDevicePartitions force-unmounts every currently mounted partition
// of the target device.
func (p Provisioner) unmountDevicePartitions() error {
	parts, err := partitions.GetDiskPartitions(p.spec.Device)
	if err != nil {
		return err
	}
	var failed []string
	for _, part := range parts {
		if part.MountPoint == "" {
			continue
		}
		p.config.Logger.Debugf("Unmounting %s from %s", part.Path, part.MountPoint)
		if _, err := p.config.Runner.Run("umount", "--force", part.MountPoint); err != nil {
			failed = append(failed, part.MountPoint)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed unmounting %s", strings.Join(failed, ", "))
	}
	return nil
}

// closeStaleMappings tears down device-mapper nodes carrying this tool's
// reserved name prefix and backed by the target disk, including the current
// session's own name. Mappings of sessions running on other disks stay up.
func (p Provisioner) closeStaleMappings() error {
	crypt := luks.NewDevice(p.config)
	names := crypt.StaleMappings(p.spec.Device)
	if crypt.MappingExists(p.spec.MappedName()) {
		names = append(names, p.spec.MappedName())
	}

	var lastErr error
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		mapped := filepath.Join("/dev/mapper", name)
		// the mapping may still carry a mounted filesystem
		_, _ = p.config.Runner.Run("umount", "--force", mapped)
		if err := crypt.Close(name); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// closeHeaderHolders closes any device-mapper holder still bound to a
// partition that carries an encryption header.
func (p Provisioner) closeHeaderHolders() error {
	parts, err := partitions.GetDiskPartitions(p.spec.Device)
	if err != nil {
		return err
	}
	crypt := luks.NewDevice(p.config)
	var lastErr error
	for _, part := range parts {
		if part.Path == "" || !crypt.IsLuks(part.Path) {
			continue
		}
		holders, _ := p.config.Fs.Glob(
			filepath.Join("/sys/class/block", filepath.Base(part.Path), "holders", "*"))
		for _, holder := range holders {
			nameBytes, err := p.config.Fs.ReadFile(filepath.Join(holder, "dm", "name"))
			if err != nil {
				continue
			}
			name := strings.TrimSpace(string(nameBytes))
			p.config.Logger.Debugf("Closing holder %s of %s", name, part.Path)
			if err := crypt.Close(name); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// rereadPartitionTable asks the kernel to drop and re-probe the partition
// table. Stale nodes survive table rewrites otherwise.
func (p Provisioner) rereadPartitionTable() error {
	if _, err := p.config.Runner.Run("partprobe", p.spec.Device); err != nil {
		return err
	}
	_, err := p.config.Runner.Run("udevadm", "settle")
	return err
}

// eraseSignatures wipes filesystem and partition-table magic bytes across
// the whole device.
func (p Provisioner) eraseSignatures() error {
	_, err := p.config.Runner.Run("wipefs", "--all", p.spec.Device)
	return err
}

// zeroDeviceEdges zeroes a fixed window at the start and end of the device,
// removing backup partition-table structures the signature wipe misses.
func (p Provisioner) zeroDeviceEdges() error {
	_, err := p.config.Runner.Run("dd", "if=/dev/zero", fmt.Sprintf("of=%s", p.spec.Device),
		"bs=1M", fmt.Sprintf("count=%d", cnst.WipeWindowMiB), "conv=fsync")
	if err != nil {
		return err
	}

	sizeBytes := p.deviceSizeBytes()
	if sizeBytes == 0 {
		return fmt.Errorf("could not determine size of %s", p.spec.Device)
	}
	sizeMiB := sizeBytes / (1024 * 1024)
	if sizeMiB <= cnst.WipeWindowMiB {
		return nil
	}
	_, err = p.config.Runner.Run("dd", "if=/dev/zero", fmt.Sprintf("of=%s", p.spec.Device),
		"bs=1M", fmt.Sprintf("count=%d", cnst.WipeWindowMiB),
		fmt.Sprintf("seek=%d", sizeMiB-cnst.WipeWindowMiB), "conv=fsync")
	return err
}

func (p Provisioner) deviceSizeBytes() uint64 {
	if p.spec.Target != nil && p.spec.Target.SizeBytes > 0 {
		return p.spec.Target.SizeBytes
	}
	disk, err := partitions.GetDisk(p.spec.Device)
	if err != nil || disk == nil {
		return 0
	}
	return disk.SizeBytes
}

// checkWritable is the single hard gate of the reset. The device must be
// openable for writing once all cleanup steps ran.
func (p Provisioner) checkWritable() error {
	f, err := p.config.Fs.OpenFile(p.spec.Device, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrDeviceNotWritable, p.spec.Device)
	}
	return f.Close()
}
