package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/seedforge-io/seedforge/internal/agent"
	"github.com/seedforge-io/seedforge/internal/common"
	"github.com/seedforge-io/seedforge/pkg/config"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

var cmds = []*cli.Command{
	{
		Name:      "create",
		Usage:     "Provision a removable device as a bootable installation medium",
		UsageText: "create [iso-path usb-device enroll-key username password]",
		Description: `
Turns the given block device into a bootable installation medium carrying an
encrypted vault with the enrollment key and account credentials consumed by
first-boot automation. Positional arguments left out are prompted for
interactively. ALL DATA ON THE DEVICE IS DESTROYED.
`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "profile",
				Value: "server",
				Usage: "media profile, 'server' or 'desktop'",
			},
			&cli.StringFlag{
				Name:  "checksum",
				Usage: "expected sha256 of the installer image",
			},
			&cli.BoolFlag{
				Name:  "require-kernel",
				Usage: "fail instead of warning when no kernel/initrd is found after transfer",
			},
		},
		Before: func(c *cli.Context) error {
			return checkRoot()
		},
		Action: func(c *cli.Context) error {
			profile := config.ServerProfile
			if c.String("profile") == string(config.DesktopProfile) {
				profile = config.DesktopProfile
			}
			args := c.Args()
			return agent.Create(
				profile,
				args.Get(0),
				args.Get(1),
				args.Get(2),
				args.Get(3),
				args.Get(4),
				agent.WithChecksum(c.String("checksum")),
				agent.WithRequireKernel(c.Bool("require-kernel")),
			)
		},
	},
	{
		Name:  "install",
		Usage: "Install this binary into the system path",
		Action: func(c *cli.Context) error {
			return agent.Install()
		},
	},
	{
		Name:  "uninstall",
		Usage: "Remove this binary from the system path",
		Action: func(c *cli.Context) error {
			return agent.Uninstall()
		},
	},
}

func main() {
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug output",
				EnvVars: []string{"SEEDFORGE_DEBUG"},
			},
		},
		Name:    "seedforge",
		Version: common.VERSION,
		Usage:   "provision trusted boot media",
		Description: `
seedforge prepares removable install media with an encrypted secrets vault
for unattended node enrollment on first boot.
`,
		Before: func(c *cli.Context) error {
			viper.Set("debug", c.Bool("debug"))
			return nil
		},
		Commands: cmds,
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func checkRoot() error {
	if os.Geteuid() != 0 {
		return errors.New("this command requires root privileges")
	}
	return nil
}
