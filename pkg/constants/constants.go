package constants

import (
	"os"
	"time"
)

const (
	// Partition labels, consumed by the first-boot automation. Fixed values,
	// changing them breaks enrollment on already produced media.
	EfiLabel            = "EFI"
	PayloadServerLabel  = "UBUNTU-BOOT"
	PayloadDesktopLabel = "UBUNTU-DESKTOP"
	SecretsLabel        = "SECURE-CONFIG"
	PersistenceLabel    = "PERSISTENCE"

	EfiPartName         = "efi"
	PayloadPartName     = "payload"
	SecretsPartName     = "secrets"
	PersistencePartName = "persistence"

	// Sizes in MiB. A zero size means the partition grows to the end of the
	// device, the layout builder always places exactly one such partition last.
	EfiSize     = uint(512)
	PayloadSize = uint(12288)
	SecretsSize = uint(1024)

	EfiFs     = "vfat"
	PayloadFs = "vfat"
	LinuxFs   = "ext4"

	GPT = "gpt"

	// Minimum capacities enforced before any write.
	MinServerSizeBytes  = uint64(16) * 1024 * 1024 * 1024
	MinDesktopSizeBytes = uint64(32) * 1024 * 1024 * 1024

	// Mapped device-mapper name prefix for the secrets volume. The session id
	// is appended so concurrent sessions on different devices cannot collide.
	MappedNamePrefix = "seedforge-secure"

	// Encryption parameters are pinned explicitly, never the primitive's
	// environment-dependent defaults.
	LuksType    = "luks2"
	LuksCipher  = "aes-xts-plain64"
	LuksKeySize = "512"
	LuksHash    = "sha512"
	LuksPbkdf   = "argon2id"

	RunDir     = "/run/seedforge"
	IsoDir     = "/run/seedforge/iso"
	EfiDir     = "/run/seedforge/efi"
	PayloadDir = "/run/seedforge/payload"
	SecretsDir = "/run/seedforge/secrets"

	// Layout of the secrets volume.
	CredentialsDirName  = "credentials"
	CredentialsFileName = "seedforge.env"

	// Keys written into the credentials file.
	EnrollKeyVar      = "NODE_ENROLL_KEY"
	UsernameVar       = "NODE_USERNAME"
	PasswordHashVar   = "NODE_PASSWORD_HASH"
	HostnamePrefixVar = "NODE_HOSTNAME_PREFIX"

	// Payload paths checked after transfer.
	CasperDir      = "casper"
	KernelFile     = "casper/vmlinuz"
	InitrdFile     = "casper/initrd"
	SquashfsFile   = "casper/filesystem.squashfs"
	GrubCfgPath    = "boot/grub/grub.cfg"
	FirstBootDir   = "seedforge"
	FirstBootUnit  = "seedforge/firstboot.sh"
	CloudInitSeed  = "seedforge/cloud-init.yaml"
	NetworkFragYml = "seedforge/network.yaml"

	MountBinary = "/usr/bin/mount"
	Rsync       = "rsync"

	LogFile = "/var/log/seedforge.log"

	// Fixed-delay bounded retries, no backoff, no jitter.
	PartNodeAttempts = 10
	PartNodeDelay    = 1 * time.Second
	EnrollAttempts   = 5
	EnrollDelay      = 10 * time.Second

	// Zeroed window at both ends of the device during reset, wipes backup GPT
	// structures.
	WipeWindowMiB = 4

	DirPerm        = os.ModeDir | os.ModePerm
	FilePerm       = 0666
	ScriptPerm     = 0755
	SecretsPerm    = 0600
	KeyFilePerm    = 0600
	NoWriteDirPerm = 0555 | os.ModeDir
	TempDirPerm    = os.ModePerm | os.ModeSticky | os.ModeDir

	DefaultHostnamePrefix = "node"
)

// KernelPrefixes are the recognized kernel image file name prefixes checked
// after transfer.
func KernelPrefixes() []string {
	return []string{"vmlinuz", "linux"}
}

// InitrdPrefixes are the recognized initial ramdisk file name prefixes.
func InitrdPrefixes() []string {
	return []string{"initrd", "initramfs"}
}

// IntegrityCriticalFiles are verified by size after copy and retried through
// the block-level fallback on mismatch.
func IntegrityCriticalFiles() []string {
	return []string{KernelFile, InitrdFile, SquashfsFile}
}
