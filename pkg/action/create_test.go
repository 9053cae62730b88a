package action_test

import (
	"errors"

	"github.com/seedforge-io/seedforge/pkg/action"
	"github.com/seedforge-io/seedforge/pkg/config"
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/seedforge-io/seedforge/pkg/utils"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
	v1mock "github.com/seedforge-io/seedforge/tests/mocks"
	"golang.org/x/crypto/bcrypt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v5"
	"github.com/twpayne/go-vfs/v5/vfst"
)

const twentyGiB = uint64(20) * 1024 * 1024 * 1024

var _ = Describe("Create action", Label("create", "action"), func() {
	var cfg *config.Config
	var runner *v1mock.FakeRunner
	var mounter *v1mock.ErrorMounter
	var syscallMock *v1mock.FakeSyscall
	var fs vfs.FS
	var cleanup func()
	var spec *config.ProvisionSpec
	var probed *v1.BlockDevice
	var create *action.CreateAction

	writeIso := func(path string) {
		buf := make([]byte, 32769+5)
		copy(buf[32769:], "CD001")
		Expect(fs.WriteFile(path, buf, cnst.FilePerm)).To(Succeed())
	}

	// mimics a successful transfer by materializing the payload tree on the
	// destination when rsync runs
	copyPayload := func() {
		src := cnst.IsoDir
		dst := cnst.PayloadDir
		for _, f := range []string{"vmlinuz", "initrd", "filesystem.squashfs"} {
			Expect(fsutils.MkdirAll(fs, dst+"/casper", cnst.DirPerm)).To(Succeed())
			Expect(utils.CopyFile(fs, src+"/casper/"+f, dst+"/casper/"+f)).To(Succeed())
		}
	}

	BeforeEach(func() {
		runner = v1mock.NewFakeRunner()
		mounter = v1mock.NewErrorMounter()
		syscallMock = &v1mock.FakeSyscall{}
		fs, cleanup, _ = vfst.NewTestFS(nil)
		Expect(fs.Mkdir("/dev", cnst.DirPerm)).To(Succeed())
		Expect(fs.Mkdir("/data", cnst.DirPerm)).To(Succeed())
		Expect(fs.Mkdir("/tmp", cnst.DirPerm)).To(Succeed())
		Expect(fs.WriteFile("/dev/sdb", []byte{}, 0640)).To(Succeed())
		Expect(fs.Truncate("/dev/sdb", int64(twentyGiB))).To(Succeed())
		Expect(fs.WriteFile("/dev/loop-control", []byte{}, 0640)).To(Succeed())
		Expect(fs.WriteFile("/dev/loop0", []byte{}, 0640)).To(Succeed())
		writeIso("/data/installer.iso")

		// source payload as seen through the faked ISO mount
		Expect(fsutils.MkdirAll(fs, cnst.IsoDir+"/casper", cnst.DirPerm)).To(Succeed())
		Expect(fs.WriteFile(cnst.IsoDir+"/casper/vmlinuz", []byte("kernel-bits"), cnst.FilePerm)).To(Succeed())
		Expect(fs.WriteFile(cnst.IsoDir+"/casper/initrd", []byte("ramdisk-bits"), cnst.FilePerm)).To(Succeed())
		Expect(fs.WriteFile(cnst.IsoDir+"/casper/filesystem.squashfs", []byte("squash-bits"), cnst.FilePerm)).To(Succeed())

		cfg = config.NewConfig(
			config.WithFs(fs),
			config.WithRunner(runner),
			config.WithLogger(v1.NewNullLogger()),
			config.WithMounter(mounter),
			config.WithSyscall(syscallMock),
		)

		probed = &v1.BlockDevice{
			Path:      "/dev/sdb",
			SizeBytes: twentyGiB,
			Model:     "FakeStick",
			Serial:    "12345",
			Removable: true,
		}

		spec = config.NewProvisionSpec(config.ServerProfile, "/dev/sdb", "/data/installer.iso")
		spec.EnrollKey = "tsAAAAAAAAAAAAAAAAAAAAA"
		spec.Username = "alice"
		spec.Password = "hunter2"

		runner.SideEffect = func(command string, args ...string) ([]byte, error) {
			switch command {
			case "partprobe":
				for i := 1; i <= len(spec.Partitions); i++ {
					_ = fs.WriteFile(provisionerNode("/dev/sdb", i), []byte{}, 0640)
				}
			case "rsync":
				copyPayload()
			}
			return nil, nil
		}

		create = action.NewCreateAction(cfg, spec, action.WithProber(
			func(path string) (*v1.BlockDevice, error) { return probed, nil },
		))
	})
	AfterEach(func() { cleanup() })

	It("provisions a valid device end to end", func() {
		Expect(create.Run()).To(Succeed())

		// stage order held: wipe, partition nodes, secrets volume, payload,
		// bootloader
		Expect(runner.MatchMilestones([][]string{
			{"wipefs", "--all", "/dev/sdb"},
			{"mkfs.vfat", "-n", cnst.EfiLabel},
			{"mkfs.vfat", "-n", cnst.PayloadServerLabel},
			{"cryptsetup", "luksFormat"},
			{"cryptsetup", "open"},
			{"mkfs.ext4", "-L", cnst.SecretsLabel},
			{"rsync"},
			{"grub-install"},
		})).To(Succeed())

		// credentials landed hashed inside the secrets mount
		envs, err := utils.LoadEnvFile(fs, cnst.SecretsDir+"/credentials/seedforge.env")
		Expect(err).ToNot(HaveOccurred())
		Expect(envs[cnst.UsernameVar]).To(Equal("alice"))
		Expect(envs[cnst.PasswordHashVar]).ToNot(ContainSubstring("hunter2"))
		Expect(bcrypt.CompareHashAndPassword([]byte(envs[cnst.PasswordHashVar]), []byte("hunter2"))).To(Succeed())

		// full unwind ran, nothing left mounted
		mounts, err := mounter.List()
		Expect(err).ToNot(HaveOccurred())
		Expect(mounts).To(BeEmpty())
	})

	It("aborts before any command on a too small device", func() {
		probed.SizeBytes = uint64(8) * 1024 * 1024 * 1024
		err := create.Run()
		Expect(err).To(MatchError(v1.ErrDeviceTooSmall))
		Expect(len(runner.GetCmds())).To(Equal(0))
	})

	It("aborts before any command on a malformed enrollment key", func() {
		spec.EnrollKey = "ts-not-a-valid-key"
		err := create.Run()
		Expect(err).To(MatchError(v1.ErrInvalidEnrollmentKey))
		Expect(len(runner.GetCmds())).To(Equal(0))
	})

	It("aborts before any command without a password", func() {
		spec.Password = ""
		err := create.Run()
		Expect(err).To(HaveOccurred())
		Expect(len(runner.GetCmds())).To(Equal(0))
	})

	It("aborts before any destructive command on a missing source", func() {
		Expect(fs.Remove("/data/installer.iso")).To(Succeed())
		err := create.Run()
		Expect(err).To(MatchError(v1.ErrSourceNotFound))
		Expect(len(runner.GetCmds())).To(Equal(0))
	})

	It("unwinds and reports VolumeOpenFailed when the volume open fails", func() {
		base := runner.SideEffect
		runner.SideEffect = func(command string, args ...string) ([]byte, error) {
			if command == "cryptsetup" && args[0] == "open" {
				return nil, errors.New("open error")
			}
			return base(command, args...)
		}

		err := create.Run()
		Expect(err).To(MatchError(v1.ErrVolumeOpenFailed))

		// nothing stays mounted and no mapping is left behind
		mounts, listErr := mounter.List()
		Expect(listErr).ToNot(HaveOccurred())
		Expect(mounts).To(BeEmpty())
		e, _ := fsutils.Exists(fs, spec.MappedPath())
		Expect(e).To(BeFalse())
	})

	It("unwinds the payload mount when the bootloader install fails", func() {
		base := runner.SideEffect
		runner.SideEffect = func(command string, args ...string) ([]byte, error) {
			if command == "grub-install" {
				return nil, errors.New("grub error")
			}
			return base(command, args...)
		}

		err := create.Run()
		Expect(err).To(MatchError(v1.ErrBootInstallFailed))
		mounts, listErr := mounter.List()
		Expect(listErr).ToNot(HaveOccurred())
		Expect(mounts).To(BeEmpty())
	})
})

// provisionerNode mirrors the kernel partition naming for plain disk nodes.
func provisionerNode(device string, num int) string {
	return device + string(rune('0'+num))
}
