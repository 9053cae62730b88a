package luks_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/seedforge-io/seedforge/pkg/config"
	"github.com/seedforge-io/seedforge/pkg/constants"
	"github.com/seedforge-io/seedforge/pkg/luks"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
	v1mock "github.com/seedforge-io/seedforge/tests/mocks"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v5"
	"github.com/twpayne/go-vfs/v5/vfst"
)

func TestLuks(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Luks test suite")
}

var _ = Describe("Luks", Label("luks"), func() {
	var cfg *config.Config
	var runner *v1mock.FakeRunner
	var fs vfs.FS
	var cleanup func()
	var crypt *luks.Device

	BeforeEach(func() {
		runner = v1mock.NewFakeRunner()
		fs, cleanup, _ = vfst.NewTestFS(nil)
		Expect(fs.Mkdir("/tmp", constants.DirPerm)).To(Succeed())
		cfg = config.NewConfig(
			config.WithFs(fs),
			config.WithRunner(runner),
			config.WithLogger(v1.NewNullLogger()),
			config.WithMounter(v1mock.NewErrorMounter()),
		)
		crypt = luks.NewDevice(cfg)
	})
	AfterEach(func() { cleanup() })

	Describe("Format", func() {
		It("pins the full cipher configuration", func() {
			Expect(crypt.Format("/dev/sdb3", "secret")).To(Succeed())
			cmds := runner.GetCmds()
			Expect(len(cmds)).To(Equal(1))
			cmd := cmds[0]
			Expect(cmd[0]).To(Equal("cryptsetup"))
			Expect(cmd[1]).To(Equal("luksFormat"))
			Expect(cmd).To(ContainElements("--type", constants.LuksType))
			Expect(cmd).To(ContainElements("--cipher", constants.LuksCipher))
			Expect(cmd).To(ContainElements("--key-size", constants.LuksKeySize))
			Expect(cmd).To(ContainElements("--hash", constants.LuksHash))
			Expect(cmd).To(ContainElements("--pbkdf", constants.LuksPbkdf))
			Expect(cmd).To(ContainElement("--batch-mode"))
			Expect(cmd[len(cmd)-1]).To(Equal("/dev/sdb3"))
		})
		It("never puts the passphrase on the command line", func() {
			Expect(crypt.Format("/dev/sdb3", "topsecret")).To(Succeed())
			for _, arg := range runner.GetCmds()[0] {
				Expect(arg).ToNot(ContainSubstring("topsecret"))
			}
		})
		It("removes the key file afterwards", func() {
			Expect(crypt.Format("/dev/sdb3", "secret")).To(Succeed())
			matches, _ := fs.Glob("/tmp/seedforge-key-*")
			Expect(matches).To(BeEmpty())
		})
		It("fails when the primitive fails", func() {
			runner.ReturnError = errors.New("luksFormat error")
			Expect(crypt.Format("/dev/sdb3", "secret")).NotTo(Succeed())
		})
	})

	Describe("Open", func() {
		It("opens to the given mapped name with a key file", func() {
			Expect(crypt.Open("/dev/sdb3", "seedforge-secure-abc123", "secret")).To(Succeed())
			cmds := runner.GetCmds()
			Expect(len(cmds)).To(Equal(1))
			cmd := cmds[0]
			Expect(cmd[0]).To(Equal("cryptsetup"))
			Expect(cmd[1]).To(Equal("open"))
			Expect(cmd).To(ContainElement("--key-file"))
			Expect(cmd[len(cmd)-2]).To(Equal("/dev/sdb3"))
			Expect(cmd[len(cmd)-1]).To(Equal("seedforge-secure-abc123"))
			for _, arg := range cmd {
				Expect(arg).ToNot(ContainSubstring("secret"))
			}
		})
	})

	Describe("Close", func() {
		It("closes cleanly without forcing", func() {
			Expect(crypt.Close("seedforge-secure-abc123")).To(Succeed())
			Expect(runner.CmdsMatch([][]string{
				{"cryptsetup", "close", "seedforge-secure-abc123"},
			})).To(Succeed())
		})
		It("falls back to forced removal when the clean close fails", func() {
			runner.SideEffect = func(command string, args ...string) ([]byte, error) {
				if command == "cryptsetup" {
					return nil, errors.New("device busy")
				}
				return nil, nil
			}
			Expect(crypt.Close("seedforge-secure-abc123")).To(Succeed())
			Expect(runner.CmdsMatch([][]string{
				{"cryptsetup", "close", "seedforge-secure-abc123"},
				{"dmsetup", "remove", "--force", "seedforge-secure-abc123"},
			})).To(Succeed())
		})
	})

	Describe("IsLuks", func() {
		It("answers from the primitive's exit status", func() {
			Expect(crypt.IsLuks("/dev/sdb3")).To(BeTrue())
			runner.ReturnError = errors.New("not a LUKS device")
			Expect(crypt.IsLuks("/dev/sdb3")).To(BeFalse())
		})
	})

	Describe("Mappings", func() {
		addMapping := func(dm, name, slave string) {
			base := "/sys/class/block/" + dm
			Expect(fsutils.MkdirAll(fs, base+"/dm", constants.DirPerm)).To(Succeed())
			Expect(fs.WriteFile(base+"/dm/name", []byte(name+"\n"), 0640)).To(Succeed())
			Expect(fsutils.MkdirAll(fs, base+"/slaves/"+slave, constants.DirPerm)).To(Succeed())
		}

		It("detects existing mapping nodes", func() {
			Expect(fsutils.MkdirAll(fs, "/dev/mapper", constants.DirPerm)).To(Succeed())
			Expect(fs.WriteFile("/dev/mapper/seedforge-secure-dead01", []byte{}, 0640)).To(Succeed())
			Expect(crypt.MappingExists("seedforge-secure-dead01")).To(BeTrue())
			Expect(crypt.MappingExists("seedforge-secure-other")).To(BeFalse())
		})
		It("reports stale mappings backed by the given disk only", func() {
			addMapping("dm-0", "seedforge-secure-dead01", "sdb3")
			addMapping("dm-1", "seedforge-secure-live02", "sdc3")
			Expect(crypt.StaleMappings("/dev/sdb")).To(ConsistOf("seedforge-secure-dead01"))
			Expect(crypt.StaleMappings("/dev/sdc")).To(ConsistOf("seedforge-secure-live02"))
			Expect(crypt.StaleMappings("/dev/sdd")).To(BeEmpty())
		})
		It("ignores mappings outside the reserved prefix", func() {
			addMapping("dm-0", "luks-someother", "sdb2")
			Expect(crypt.StaleMappings("/dev/sdb")).To(BeEmpty())
		})
	})

	It("works with strings that look like shell metacharacters", func() {
		// the runner passes argv directly, nothing is shell interpreted
		Expect(crypt.Close("name;rm -rf /")).To(Succeed())
		Expect(strings.Join(runner.GetCmds()[0], " ")).To(ContainSubstring("name;rm -rf /"))
	})
})
