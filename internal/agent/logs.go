package agent

import (
	"os"

	"github.com/rs/zerolog"
	cnst "github.com/seedforge-io/seedforge/pkg/constants"
	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
)

// sessionLogger duplicates operator facing output into the fixed log file.
// Falls back to console-only when the file cannot be opened, a missing log
// file never blocks provisioning.
func sessionLogger() v1.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr}
	f, err := os.OpenFile(cnst.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return v1.NewLogger()
	}
	return v1.NewWriterLogger(console, f)
}
