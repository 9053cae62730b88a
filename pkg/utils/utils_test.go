package utils_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/seedforge-io/seedforge/pkg/config"
	"github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
	"github.com/seedforge-io/seedforge/pkg/utils"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
	v1mock "github.com/seedforge-io/seedforge/tests/mocks"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v5"
	"github.com/twpayne/go-vfs/v5/vfst"
)

func TestUtils(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Utils test suite")
}

var _ = Describe("Utils", Label("utils"), func() {
	var cfg *config.Config
	var runner *v1mock.FakeRunner
	var logger v1.Logger
	var mounter *v1mock.ErrorMounter
	var fs vfs.FS
	var cleanup func()

	BeforeEach(func() {
		runner = v1mock.NewFakeRunner()
		mounter = v1mock.NewErrorMounter()
		logger = v1.NewNullLogger()
		fs, cleanup, _ = vfst.NewTestFS(nil)
		Expect(fs.Mkdir("/tmp", constants.DirPerm)).To(Succeed())
		Expect(fs.Mkdir("/etc", constants.DirPerm)).To(Succeed())

		cfg = config.NewConfig(
			config.WithFs(fs),
			config.WithRunner(runner),
			config.WithLogger(logger),
			config.WithMounter(mounter),
		)
	})
	AfterEach(func() { cleanup() })

	Describe("CleanStack", Label("cleanstack"), func() {
		var cleaner *utils.CleanStack
		BeforeEach(func() {
			cleaner = utils.NewCleanStack()
		})
		It("Adds a callback to the stack and pops it", func() {
			var flag bool
			callback := func() error {
				flag = true
				return nil
			}
			Expect(cleaner.Pop()).To(BeNil())
			cleaner.Push(callback)
			poppedJob := cleaner.Pop()
			Expect(poppedJob).NotTo(BeNil())
			poppedJob()
			Expect(flag).To(BeTrue())
		})
		It("On Cleanup runs callback stack in reverse order", func() {
			result := ""
			callback1 := func() error {
				result = result + "one "
				return nil
			}
			callback2 := func() error {
				result = result + "two "
				return nil
			}
			callback3 := func() error {
				result = result + "three "
				return nil
			}
			cleaner.Push(callback1)
			cleaner.Push(callback2)
			cleaner.Push(callback3)
			cleaner.Cleanup(nil)
			Expect(result).To(Equal("three two one "))
		})
		It("On Cleanup keeps former error and appends new callback errors", func() {
			err := errors.New("Former error")
			count := 0
			callback := func() error {
				count++
				if count == 2 {
					return errors.New("Cleanup error")
				}
				return nil
			}
			cleaner.Push(callback)
			cleaner.Push(callback)
			cleaner.Push(callback)
			err = cleaner.Cleanup(err)
			Expect(count).To(Equal(3))
			Expect(err.Error()).To(ContainSubstring("Former error"))
		})
		It("On Cleanup error reports first error and appends following errors", func() {
			var err error
			count := 0
			callback := func() error {
				count++
				if count >= 2 {
					return errors.New(fmt.Sprintf("Cleanup error %d", count))
				}
				return nil
			}
			cleaner.Push(callback)
			cleaner.Push(callback)
			cleaner.Push(callback)
			err = cleaner.Cleanup(err)
			Expect(count).To(Equal(3))
			Expect(err.Error()).To(ContainSubstring("Cleanup error 2"))
			Expect(err.Error()).To(ContainSubstring("Cleanup error 3"))
		})
	})

	Describe("Retry", Label("retry"), func() {
		It("returns on first success without retrying", func() {
			count := 0
			err := utils.Retry(5, 0, func() error {
				count++
				return nil
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(1))
		})
		It("runs exactly the given number of attempts and keeps the last error", func() {
			count := 0
			err := utils.Retry(3, 0, func() error {
				count++
				return fmt.Errorf("failure %d", count)
			})
			Expect(err).To(HaveOccurred())
			Expect(count).To(Equal(3))
			Expect(err.Error()).To(ContainSubstring("failure 3"))
		})
		It("succeeds if a late attempt succeeds", func() {
			count := 0
			err := utils.Retry(3, 0, func() error {
				count++
				if count < 3 {
					return errors.New("not yet")
				}
				return nil
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(3))
		})
		It("uses a fixed delay between attempts", func() {
			start := time.Now()
			_ = utils.Retry(3, 10*time.Millisecond, func() error {
				return errors.New("always")
			})
			Expect(time.Since(start)).To(BeNumerically(">=", 20*time.Millisecond))
		})
	})

	Describe("CopyFile", Label("files"), func() {
		It("Copies source file to target file", func() {
			err := fsutils.MkdirAll(fs, "/some", constants.DirPerm)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(fs.WriteFile("/some/file", []byte("some data"), constants.FilePerm)).To(Succeed())
			Expect(utils.CopyFile(fs, "/some/file", "/some/otherfile")).To(Succeed())
			data, err := fs.ReadFile("/some/otherfile")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(data).To(Equal([]byte("some data")))
		})
		It("Copies source file to target folder", func() {
			err := fsutils.MkdirAll(fs, "/some", constants.DirPerm)
			Expect(err).ShouldNot(HaveOccurred())
			err = fsutils.MkdirAll(fs, "/someotherfolder", constants.DirPerm)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(fs.WriteFile("/some/file", []byte("some data"), constants.FilePerm)).To(Succeed())
			Expect(utils.CopyFile(fs, "/some/file", "/someotherfolder")).To(Succeed())
			e, err := fsutils.Exists(fs, "/someotherfolder/file")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(e).To(BeTrue())
		})
		It("Fails to open non existing file", func() {
			err := fsutils.MkdirAll(fs, "/some", constants.DirPerm)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(utils.CopyFile(fs, "/some/file", "/some/otherfile")).NotTo(Succeed())
			_, err = fs.Stat("/some/otherfile")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SyncData", Label("sync"), func() {
		It("runs rsync with archive and attribute flags", func() {
			Expect(fsutils.MkdirAll(fs, "/src", constants.DirPerm)).To(Succeed())
			Expect(fsutils.MkdirAll(fs, "/dst", constants.DirPerm)).To(Succeed())
			Expect(utils.SyncData(logger, runner, fs, "/src", "/dst")).To(Succeed())
			cmds := runner.GetCmds()
			Expect(len(cmds)).To(Equal(1))
			Expect(cmds[0][0]).To(Equal("rsync"))
			Expect(cmds[0]).To(ContainElement("--archive"))
			Expect(cmds[0]).To(ContainElement("--xattrs"))
			Expect(cmds[0]).To(ContainElement("--acls"))
		})
		It("adds exclusion arguments", func() {
			Expect(fsutils.MkdirAll(fs, "/src", constants.DirPerm)).To(Succeed())
			Expect(fsutils.MkdirAll(fs, "/dst", constants.DirPerm)).To(Succeed())
			Expect(utils.SyncData(logger, runner, fs, "/src", "/dst", "host", "run")).To(Succeed())
			cmds := runner.GetCmds()
			Expect(cmds[0]).To(ContainElement("--exclude=host"))
			Expect(cmds[0]).To(ContainElement("--exclude=run"))
		})
		It("fails when rsync fails", func() {
			runner.ReturnError = errors.New("rsync error")
			Expect(fsutils.MkdirAll(fs, "/src", constants.DirPerm)).To(Succeed())
			Expect(fsutils.MkdirAll(fs, "/dst", constants.DirPerm)).To(Succeed())
			Expect(utils.SyncData(logger, runner, fs, "/src", "/dst")).NotTo(Succeed())
		})
	})

	Describe("Env files", Label("env"), func() {
		It("writes and reads back an env file", func() {
			envs := map[string]string{"ONE": "uno", "TWO": "dos"}
			Expect(utils.WriteEnvFile(fs, envs, "/etc/creds.env", constants.SecretsPerm)).To(Succeed())
			loaded, err := utils.LoadEnvFile(fs, "/etc/creds.env")
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded).To(Equal(envs))
		})
		It("applies the requested mode", func() {
			envs := map[string]string{"KEY": "value"}
			Expect(utils.WriteEnvFile(fs, envs, "/etc/creds.env", constants.SecretsPerm)).To(Succeed())
			info, err := fs.Stat("/etc/creds.env")
			Expect(err).ToNot(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(constants.SecretsPerm)))
		})
		It("leaves no temp file behind", func() {
			envs := map[string]string{"KEY": "value"}
			Expect(utils.WriteEnvFile(fs, envs, "/etc/creds.env", constants.SecretsPerm)).To(Succeed())
			e, _ := fsutils.Exists(fs, "/etc/creds.env.tmp")
			Expect(e).To(BeFalse())
		})
		It("fails loading a missing file", func() {
			_, err := utils.LoadEnvFile(fs, "/etc/nope.env")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("IsMounted", Label("mount"), func() {
		It("checks a mounted partition", func() {
			part := &v1.Partition{MountPoint: "/some/mountpoint"}
			err := mounter.Mount("/some/device", "/some/mountpoint", "auto", []string{})
			Expect(err).ShouldNot(HaveOccurred())
			mnt, err := utils.IsMounted(cfg.Mounter, part)
			Expect(mnt).To(BeTrue())
			Expect(err).ShouldNot(HaveOccurred())
		})
		It("checks a not mounted partition", func() {
			part := &v1.Partition{MountPoint: "/some/mountpoint"}
			mnt, err := utils.IsMounted(cfg.Mounter, part)
			Expect(mnt).To(BeFalse())
			Expect(err).ShouldNot(HaveOccurred())
		})
		It("checks a partition without mountpoint", func() {
			part := &v1.Partition{}
			mnt, err := utils.IsMounted(cfg.Mounter, part)
			Expect(mnt).To(BeFalse())
			Expect(err).ShouldNot(HaveOccurred())
		})
		It("checks a nil partition", func() {
			mnt, err := utils.IsMounted(cfg.Mounter, nil)
			Expect(mnt).To(BeFalse())
			Expect(err).Should(HaveOccurred())
		})
	})

	Describe("CalcFileChecksum", Label("checksum"), func() {
		It("compute correct sha256 checksum", func() {
			testData := strings.Repeat("abcdefghilmnopqrstuvz\n", 20)
			testDataSHA256 := "7f182529f6362ae9cfa952ab87342a7180db45d2c57b52b50a68b6130b15a422"
			err := fs.Mkdir("/iso", constants.DirPerm)
			Expect(err).ShouldNot(HaveOccurred())
			err = fs.WriteFile("/iso/test.iso", []byte(testData), 0644)
			Expect(err).ShouldNot(HaveOccurred())
			checksum, err := utils.CalcFileChecksum(fs, "/iso/test.iso")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(checksum).To(Equal(testDataSHA256))
		})
	})

	Describe("FindFileWithPrefix", Label("files"), func() {
		BeforeEach(func() {
			Expect(fsutils.MkdirAll(fs, "/casper", constants.DirPerm)).To(Succeed())
		})
		It("finds a plain file by prefix", func() {
			Expect(fs.WriteFile("/casper/vmlinuz-6.8", []byte{}, constants.FilePerm)).To(Succeed())
			found, err := utils.FindFileWithPrefix(fs, "/casper", "vmlinuz", "linux")
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(Equal("/casper/vmlinuz-6.8"))
		})
		It("fails when nothing matches", func() {
			Expect(fs.WriteFile("/casper/other", []byte{}, constants.FilePerm)).To(Succeed())
			_, err := utils.FindFileWithPrefix(fs, "/casper", "vmlinuz", "linux")
			Expect(err).To(HaveOccurred())
		})
		It("does not descend into subfolders", func() {
			Expect(fsutils.MkdirAll(fs, "/casper/sub", constants.DirPerm)).To(Succeed())
			Expect(fs.WriteFile("/casper/sub/vmlinuz", []byte{}, constants.FilePerm)).To(Succeed())
			_, err := utils.FindFileWithPrefix(fs, "/casper", "vmlinuz")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GetFullDeviceByLabel", Label("lsblk", "partitions"), func() {
		It("fails to get device after exhausting the attempts", func() {
			_, err := utils.GetFullDeviceByLabel(runner, "FAKE", 1)
			Expect(err).To(HaveOccurred())
			Expect(runner.IncludesCmds([][]string{{"udevadm", "settle"}})).To(Succeed())
		})
	})

	Describe("Logger output", Label("logger"), func() {
		It("buffer logger captures messages", func() {
			b := &bytes.Buffer{}
			log := v1.NewBufferLogger(b)
			log.Infof("hello %s", "world")
			Expect(b.String()).To(ContainSubstring("hello world"))
		})
	})
})
