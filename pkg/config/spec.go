package config

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/uuid"
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	"github.com/seedforge-io/seedforge/pkg/enroll"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
)

// Profile selects the media flavor. It determines the minimum device
// capacity, the payload label and whether a persistence partition is added.
type Profile string

const (
	ServerProfile  Profile = "server"
	DesktopProfile Profile = "desktop"
)

// ProvisionSpec is the aggregate root of one provisioning session. It owns
// the validated target device, the declarative partition layout, the
// credential inputs and the session identity the mapped volume name derives
// from. It is created at pipeline start and carried immutable through the
// stages, stages only fill in realized state (partition paths, mountpoints).
type ProvisionSpec struct {
	Device         string
	Profile        Profile
	Source         string
	SourceChecksum string

	EnrollKey      string
	Username       string
	Password       string
	HostnamePrefix string

	// RequireBootArtifacts escalates the post-transfer kernel/initrd
	// presence check from a warning to a hard failure.
	RequireBootArtifacts bool

	SessionID  string
	Target     *v1.BlockDevice
	Partitions v1.PartitionList
}

// NewProvisionSpec builds the session layout for the given profile. The
// partition table is declarative: contiguous, non-overlapping, with exactly
// one zero-size partition placed last so it extends to the end of the device.
func NewProvisionSpec(profile Profile, device, source string) *ProvisionSpec {
	id := uuid.Must(uuid.NewV4()).String()[:8]

	spec := &ProvisionSpec{
		Device:         device,
		Profile:        profile,
		Source:         source,
		HostnamePrefix: cnst.DefaultHostnamePrefix,
		SessionID:      id,
	}

	efi := &v1.Partition{
		Name:            cnst.EfiPartName,
		FilesystemLabel: cnst.EfiLabel,
		Size:            cnst.EfiSize,
		FS:              cnst.EfiFs,
		Flags:           []string{"esp"},
		MountPoint:      cnst.EfiDir,
	}
	payload := &v1.Partition{
		Name:            cnst.PayloadPartName,
		FilesystemLabel: cnst.PayloadServerLabel,
		Size:            cnst.PayloadSize,
		FS:              cnst.PayloadFs,
		Flags:           []string{"boot"},
		MountPoint:      cnst.PayloadDir,
	}
	secrets := &v1.Partition{
		Name:            cnst.SecretsPartName,
		FilesystemLabel: cnst.SecretsLabel,
		Size:            0,
		FS:              cnst.LinuxFs,
		MountPoint:      cnst.SecretsDir,
	}
	spec.Partitions = v1.PartitionList{efi, payload, secrets}

	if profile == DesktopProfile {
		payload.FilesystemLabel = cnst.PayloadDesktopLabel
		secrets.Size = cnst.SecretsSize
		spec.Partitions = append(spec.Partitions, &v1.Partition{
			Name:            cnst.PersistencePartName,
			FilesystemLabel: cnst.PersistenceLabel,
			Size:            0,
			FS:              cnst.LinuxFs,
		})
	}

	return spec
}

// MappedName is the device-mapper identity of the secrets volume for this
// session. Suffixed with the session id so concurrent sessions on different
// devices cannot collide on a shared name.
func (p *ProvisionSpec) MappedName() string {
	return fmt.Sprintf("%s-%s", cnst.MappedNamePrefix, p.SessionID)
}

// MappedPath is the cleartext device node of the opened secrets volume.
func (p *ProvisionSpec) MappedPath() string {
	return filepath.Join("/dev/mapper", p.MappedName())
}

// MinDeviceSize is the capacity floor enforced before any write.
func (p *ProvisionSpec) MinDeviceSize() uint64 {
	if p.Profile == DesktopProfile {
		return cnst.MinDesktopSizeBytes
	}
	return cnst.MinServerSizeBytes
}

func (p *ProvisionSpec) EfiPartition() *v1.Partition {
	return p.Partitions.GetByName(cnst.EfiPartName)
}

func (p *ProvisionSpec) PayloadPartition() *v1.Partition {
	return p.Partitions.GetByName(cnst.PayloadPartName)
}

func (p *ProvisionSpec) SecretsPartition() *v1.Partition {
	return p.Partitions.GetByName(cnst.SecretsPartName)
}

func (p *ProvisionSpec) PersistencePartition() *v1.Partition {
	return p.Partitions.GetByName(cnst.PersistencePartName)
}

// Sanitize checks the consistency of the spec before the pipeline starts.
// Everything rejected here fails with no partial state to unwind.
func (p *ProvisionSpec) Sanitize() error {
	if p.Device == "" {
		return fmt.Errorf("%w: no target device given", v1.ErrInvalidDevicePath)
	}
	if p.Source == "" {
		return fmt.Errorf("%w: no installer source given", v1.ErrSourceNotFound)
	}
	if err := enroll.ValidateKey(p.EnrollKey); err != nil {
		return err
	}
	if p.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if p.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	// Layout invariants: contiguous specs with exactly one grow-to-end
	// partition in the last slot.
	growers := 0
	for i, part := range p.Partitions {
		if part.Size == 0 {
			growers++
			if i != len(p.Partitions)-1 {
				return fmt.Errorf("zero-size partition %s must be last in the layout", part.Name)
			}
		}
	}
	if growers != 1 {
		return fmt.Errorf("layout needs exactly one zero-size partition, got %d", growers)
	}
	return nil
}
