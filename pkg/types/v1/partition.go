package v1

import "path/filepath"

// Partition describes one entry of the media layout. Size is expressed in MiB,
// a zero Size means the partition takes whatever is left on the device.
// Path and Disk are only set once the partition exists on disk.
type Partition struct {
	Name            string   `yaml:"name,omitempty"`
	FilesystemLabel string   `yaml:"label,omitempty"`
	Size            uint     `yaml:"size,omitempty"`
	FS              string   `yaml:"fs,omitempty"`
	Flags           []string `yaml:"flags,omitempty"`
	MountPoint      string   `yaml:"-"`
	Path            string   `yaml:"-"`
	Disk            string   `yaml:"-"`
}

type PartitionList []*Partition

// GetByName returns the first partition matching the given name, nil otherwise
func (pl PartitionList) GetByName(name string) *Partition {
	for _, p := range pl {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// GetByLabel returns the first partition matching the given filesystem label,
// nil otherwise
func (pl PartitionList) GetByLabel(label string) *Partition {
	for _, p := range pl {
		if p.FilesystemLabel == label {
			return p
		}
	}
	return nil
}

// BlockDevice is a whole-disk device as probed during validation. Immutable
// for the lifetime of a provisioning session.
type BlockDevice struct {
	Path       string
	SizeBytes  uint64
	Model      string
	Serial     string
	Removable  bool
	SystemDisk bool
}

func (b BlockDevice) Name() string {
	return filepath.Base(b.Path)
}
