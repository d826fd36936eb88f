package worker

import (
	"os"
	"time"

	"github.com/h2non/filetype"
	"github.com/mitchellh/mapstructure"

	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

// ProcessOptions configure the child-process strategy. They are decoded from the
// [worker.options] table of the configuration file.
//
// Example:
//
//	[worker.options]
//	command = "/usr/local/bin/bookrelay"
//	args = ["worker", "--config", "/etc/bookrelay/bookrelay.conf"]
//	terminate_grace = "5s"
//	stderr_tail = 4096
type ProcessOptions struct {
	Command        string            `mapstructure:"command"`         // defaults to the running executable
	Args           []string          `mapstructure:"args"`            // defaults to ["worker"]
	Env            map[string]string `mapstructure:"env"`             // extra environment for the worker
	TerminateGrace string            `mapstructure:"terminate_grace"` // time between interrupt and kill
	StderrTail     int               `mapstructure:"stderr_tail"`     // bytes of stderr kept for failure reports
}

// DecodeProcessOptions decodes and validates process strategy options, filling defaults.
func DecodeProcessOptions(m map[string]any) (ProcessOptions, apperrors.Error) {
	var opts ProcessOptions
	if err := mapstructure.Decode(m, &opts); err != nil {
		return opts, ErrInvalidOptions.Err(err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Validate fills defaults and checks that the worker command is a native executable.
func (o *ProcessOptions) Validate() apperrors.Error {
	if o.Command == "" {
		exe, err := os.Executable()
		if err != nil {
			return ErrInvalidOptions.Msg("unable to locate executable: " + err.Error())
		}
		o.Command = exe
	}
	if o.Args == nil {
		o.Args = []string{relaycommon.WorkerSubcommand}
	}
	if o.TerminateGrace == "" {
		o.TerminateGrace = "5s"
	}
	if _, err := config.ParseDuration(o.TerminateGrace); err != nil {
		return ErrInvalidOptions.Msg("invalid terminate_grace: " + err.Error())
	}
	if o.StderrTail <= 0 {
		o.StderrTail = 4096
	}
	isBinary, err := isBinaryExecutable(o.Command)
	if err != nil {
		return ErrInvalidOptions.Msg("unable to inspect worker command: " + err.Error())
	}
	if !isBinary {
		return ErrInvalidOptions.Msg("worker command is not a binary: " + o.Command)
	}
	return nil
}

func (o *ProcessOptions) grace() time.Duration {
	d, err := config.ParseDuration(o.TerminateGrace)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Known executable binary types
var binaryTypes = map[string]bool{
	"elf":   true, // Linux
	"macho": true, // macOS
	"exe":   true, // Windows
}

func isBinaryExecutable(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	// 261 bytes is enough for filetype sniffing
	header := make([]byte, 261)
	n, err := file.Read(header)
	if err != nil {
		return false, err
	}

	kind, err := filetype.Match(header[:n])
	if err != nil {
		return false, err
	}
	if kind == filetype.Unknown {
		return false, nil
	}
	return binaryTypes[kind.Extension], nil
}
