package luks

import (
	"path/filepath"
	"strings"

	"github.com/seedforge-io/seedforge/pkg/config"
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	fsutils "github.com/seedforge-io/seedforge/pkg/utils/fs"
)

// Device drives the disk-encryption subsystem through the runner. It treats
// cryptsetup as an opaque capability with a pass/fail contract, no crypto
// happens in process.
type Device struct {
	cfg *config.Config
}

func NewDevice(cfg *config.Config) *Device {
	return &Device{cfg: cfg}
}

// withKeyFile writes the passphrase to a mode 0600 scratch file, hands its
// raw path to fn and removes it afterwards. The passphrase never appears in
// the argument list of an external command.
func (d *Device) withKeyFile(passphrase string, fn func(keyFile string) error) error {
	tmpDir, err := fsutils.TempDir(d.cfg.Fs, "", "seedforge-key-")
	if err != nil {
		return err
	}
	defer func() {
		_ = d.cfg.Fs.RemoveAll(tmpDir)
	}()

	keyFile := filepath.Join(tmpDir, "keyfile")
	err = d.cfg.Fs.WriteFile(keyFile, []byte(passphrase), cnst.KeyFilePerm)
	if err != nil {
		return err
	}
	rawKeyFile, err := d.cfg.Fs.RawPath(keyFile)
	if err != nil {
		return err
	}
	return fn(rawKeyFile)
}

// Format initializes the given partition as a LUKS volume with the pinned
// cipher configuration. Destroys whatever was on the partition.
func (d *Device) Format(device, passphrase string) error {
	d.cfg.Logger.Infof("Creating encrypted volume on %s", device)
	return d.withKeyFile(passphrase, func(keyFile string) error {
		out, err := d.cfg.Runner.Run("cryptsetup", "luksFormat",
			"--type", cnst.LuksType,
			"--cipher", cnst.LuksCipher,
			"--key-size", cnst.LuksKeySize,
			"--hash", cnst.LuksHash,
			"--pbkdf", cnst.LuksPbkdf,
			"--key-file", keyFile,
			"--batch-mode",
			device,
		)
		if err != nil {
			d.cfg.Logger.Errorf("luksFormat on %s failed: %s", device, string(out))
		}
		return err
	})
}

// Open maps the encrypted volume under the given device-mapper name.
func (d *Device) Open(device, mapped, passphrase string) error {
	d.cfg.Logger.Infof("Opening encrypted volume %s as %s", device, mapped)
	return d.withKeyFile(passphrase, func(keyFile string) error {
		out, err := d.cfg.Runner.Run("cryptsetup", "open",
			"--type", cnst.LuksType,
			"--key-file", keyFile,
			device, mapped,
		)
		if err != nil {
			d.cfg.Logger.Errorf("open of %s failed: %s", device, string(out))
		}
		return err
	})
}

// Close removes the device-mapper node. If the clean close fails the node is
// forcibly removed, a stale mapping must never outlive the session.
func (d *Device) Close(mapped string) error {
	d.cfg.Logger.Infof("Closing encrypted volume %s", mapped)
	out, err := d.cfg.Runner.Run("cryptsetup", "close", mapped)
	if err == nil {
		return nil
	}
	d.cfg.Logger.Warnf("Clean close of %s failed (%s), forcing removal", mapped, string(out))
	out, err = d.cfg.Runner.Run("dmsetup", "remove", "--force", mapped)
	if err != nil {
		d.cfg.Logger.Errorf("Forced removal of %s failed: %s", mapped, string(out))
	}
	return err
}

// IsLuks reports whether the given device carries a LUKS header.
func (d *Device) IsLuks(device string) bool {
	_, err := d.cfg.Runner.Run("cryptsetup", "isLuks", device)
	return err == nil
}

// MappingExists reports whether a mapping node with the given name is
// currently present.
func (d *Device) MappingExists(mapped string) bool {
	exists, _ := fsutils.Exists(d.cfg.Fs, filepath.Join("/dev/mapper", mapped))
	return exists
}

// StaleMappings returns mapping names carrying this tool's reserved prefix
// whose backing device lives on the given disk, left behind by interrupted
// runs. Mappings of concurrent sessions on other disks are not touched.
func (d *Device) StaleMappings(device string) []string {
	diskName := filepath.Base(device)
	nameFiles, err := d.cfg.Fs.Glob("/sys/class/block/dm-*/dm/name")
	if err != nil {
		return nil
	}
	var names []string
	for _, nameFile := range nameFiles {
		raw, err := d.cfg.Fs.ReadFile(nameFile)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(raw))
		if !strings.HasPrefix(name, cnst.MappedNamePrefix+"-") {
			continue
		}
		dmDir := filepath.Dir(filepath.Dir(nameFile))
		slaves, _ := d.cfg.Fs.Glob(filepath.Join(dmDir, "slaves", "*"))
		for _, slave := range slaves {
			if strings.HasPrefix(filepath.Base(slave), diskName) {
				names = append(names, name)
				break
			}
		}
	}
	return names
}
