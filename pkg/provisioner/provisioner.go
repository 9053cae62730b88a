package provisioner

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/seedforge-io/seedforge/pkg/config"
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/seedforge-io/seedforge/pkg/utils"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
	"github.com/seedforge-io/seedforge/pkg/utils/loop"
)

// isoMagic is the ISO 9660 volume descriptor identifier, located at byte
// 32769 (sector 16, offset 1) of a valid image.
const (
	isoMagic       = "CD001"
	isoMagicOffset = 32769
)

// Provisioner self-contains the stage primitives the pipeline is built from.
// Every stage receives the session spec and talks to the host exclusively
// through the collaborators in config.
type Provisioner struct {
	config *config.Config
	spec   *config.ProvisionSpec
}

func NewProvisioner(cfg *config.Config, spec *config.ProvisionSpec) *Provisioner {
	return &Provisioner{
		config: cfg,
		spec:   spec,
	}
}

// MountPartition mounts a partition with the given mount options.
func (p Provisioner) MountPartition(part *v1.Partition, opts ...string) error {
	p.config.Logger.Debugf("Mounting partition %s", part.FilesystemLabel)
	err := fsutils.MkdirAll(p.config.Fs, part.MountPoint, cnst.DirPerm)
	if err != nil {
		return err
	}
	if part.Path == "" {
		// Lets error out only after 10 attempts to find the device
		device, err := utils.GetDeviceByLabel(p.config.Runner, part.FilesystemLabel, cnst.PartNodeAttempts)
		if err != nil {
			p.config.Logger.Errorf("Could not find a device with label %s", part.FilesystemLabel)
			return err
		}
		part.Path = device
	}
	err = p.config.Mounter.Mount(part.Path, part.MountPoint, "auto", opts)
	if err != nil {
		p.config.Logger.Errorf("Failed mounting device %s with label %s", part.Path, part.FilesystemLabel)
		return err
	}
	return nil
}

// UnmountPartition unmounts the given partition or does nothing if not mounted.
func (p Provisioner) UnmountPartition(part *v1.Partition) error {
	if mnt, _ := utils.IsMounted(p.config.Mounter, part); !mnt {
		p.config.Logger.Debugf("Not unmounting partition, %s doesn't look like mountpoint", part.MountPoint)
		return nil
	}
	p.config.Logger.Debugf("Unmounting partition %s", part.FilesystemLabel)
	return p.config.Mounter.Unmount(part.MountPoint)
}

// MountDevice mounts an arbitrary block device node, used for the mapped
// secrets volume which is not part of the partition list.
func (p Provisioner) MountDevice(device, mountPoint string, opts ...string) error {
	p.config.Logger.Debugf("Mounting device %s on %s", device, mountPoint)
	err := fsutils.MkdirAll(p.config.Fs, mountPoint, cnst.DirPerm)
	if err != nil {
		return err
	}
	return p.config.Mounter.Mount(device, mountPoint, "auto", opts)
}

// UnmountDevice unmounts the given mount point or does nothing if not mounted.
func (p Provisioner) UnmountDevice(mountPoint string) error {
	if notMnt, _ := p.config.Mounter.IsLikelyNotMountPoint(mountPoint); notMnt {
		p.config.Logger.Debugf("Not unmounting, %s doesn't look like mountpoint", mountPoint)
		return nil
	}
	return p.config.Mounter.Unmount(mountPoint)
}

// GetSource resolves the installer source to a local file. HTTP(S) sources
// are downloaded next to the session's mount root, anything else is taken as
// a local path.
func (p Provisioner) GetSource() (string, error) {
	source := p.spec.Source
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		local, err := p.downloadSource(source)
		if err != nil {
			return "", err
		}
		source = local
	}
	if err := p.CheckSource(source); err != nil {
		return "", err
	}
	return source, nil
}

func (p Provisioner) downloadSource(url string) (string, error) {
	err := fsutils.MkdirAll(p.config.Fs, cnst.RunDir, cnst.DirPerm)
	if err != nil {
		return "", err
	}
	dst, err := p.config.Fs.RawPath(filepath.Join(cnst.RunDir, filepath.Base(url)))
	if err != nil {
		return "", err
	}

	p.config.Logger.Infof("Downloading installer image from %s", url)
	client := grab.NewClient()
	req, err := grab.NewRequest(dst, url)
	if err != nil {
		return "", err
	}
	resp := client.Do(req)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.config.Logger.Infof("Downloaded %.1f%%", 100*resp.Progress())
		case <-resp.Done:
			if err := resp.Err(); err != nil {
				p.config.Logger.Errorf("Download of %s failed: %s", url, err)
				return "", err
			}
			p.config.Logger.Infof("Download complete: %s", resp.Filename)
			return filepath.Join(cnst.RunDir, filepath.Base(url)), nil
		}
	}
}

// CheckSource verifies the installer image exists and carries the ISO 9660
// signature. When the session specifies a checksum it is verified too.
func (p Provisioner) CheckSource(source string) error {
	ok, err := fsutils.Exists(p.config.Fs, source)
	if err != nil || !ok {
		return fmt.Errorf("%w: %s", v1.ErrSourceNotFound, source)
	}

	f, err := p.config.Fs.Open(source)
	if err != nil {
		return fmt.Errorf("%w: %s", v1.ErrSourceNotFound, source)
	}
	defer f.Close()

	buf := make([]byte, isoMagicOffset+len(isoMagic))
	_, err = io.ReadFull(f, buf)
	if err != nil {
		return fmt.Errorf("%w: %s is too short to be an installer image", v1.ErrSourceInvalid, source)
	}
	if string(buf[isoMagicOffset:isoMagicOffset+len(isoMagic)]) != isoMagic {
		return fmt.Errorf("%w: %s has no ISO 9660 signature", v1.ErrSourceInvalid, source)
	}

	if p.spec.SourceChecksum != "" {
		sum, err := utils.CalcFileChecksum(p.config.Fs, source)
		if err != nil {
			return err
		}
		if sum != p.spec.SourceChecksum {
			return fmt.Errorf("%w: checksum mismatch, expected %s got %s",
				v1.ErrSourceInvalid, p.spec.SourceChecksum, sum)
		}
	}
	return nil
}

// AttachSource loop-attaches the installer image and mounts it read-only.
// The returned release function detaches both in reverse order.
func (p Provisioner) AttachSource(source string) (release func() error, err error) {
	loopDevice, err := loop.Loop(source, p.config)
	if err != nil {
		return nil, err
	}

	err = p.MountDevice(loopDevice, cnst.IsoDir, "ro")
	if err != nil {
		_ = loop.Unloop(loopDevice, p.config)
		return nil, err
	}

	return func() error {
		umountErr := p.UnmountDevice(cnst.IsoDir)
		loopErr := loop.Unloop(loopDevice, p.config)
		if umountErr != nil {
			return umountErr
		}
		return loopErr
	}, nil
}
