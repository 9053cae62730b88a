package mocks

import (
	"fmt"
	"os/exec"
	"reflect"

	v1 "github.com/seedforge-io/seedforge/pkg/types/v1"
)

// FakeRunner captures every command it is asked to run and lets tests assert
// on them. A SideEffect hook can fake per-command output and errors.
type FakeRunner struct {
	cmds        [][]string
	ReturnValue []byte
	SideEffect  func(command string, args ...string) ([]byte, error)
	ReturnError error
	Logger      *v1.Logger
}

var _ v1.Runner = (*FakeRunner)(nil)

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{cmds: [][]string{}, ReturnValue: []byte{}}
}

func (r *FakeRunner) Run(command string, args ...string) ([]byte, error) {
	r.InitCmd(command, args...)
	if r.SideEffect != nil {
		return r.SideEffect(command, args...)
	}
	return r.ReturnValue, r.ReturnError
}

func (r *FakeRunner) InitCmd(command string, args ...string) *exec.Cmd {
	r.cmds = append(r.cmds, append([]string{command}, args...))
	return nil
}

func (r *FakeRunner) RunCmd(cmd *exec.Cmd) ([]byte, error) {
	return r.ReturnValue, r.ReturnError
}

func (r *FakeRunner) ClearCmds() {
	r.cmds = [][]string{}
}

// CmdsMatch matches the commands list in order. Note it only matches the
// prefix of each command, extra arguments in the actual call are tolerated.
func (r *FakeRunner) CmdsMatch(cmdList [][]string) error {
	if len(cmdList) != len(r.cmds) {
		return fmt.Errorf("expected %d commands, got %d: %v", len(cmdList), len(r.cmds), r.cmds)
	}
	for i, cmd := range cmdList {
		got := r.cmds[i]
		if len(cmd) > len(got) || !reflect.DeepEqual(cmd, got[:len(cmd)]) {
			return fmt.Errorf("expected command %v at position %d, got %v", cmd, i, got)
		}
	}
	return nil
}

// IncludesCmds checks the given commands were run in any order.
func (r *FakeRunner) IncludesCmds(cmdList [][]string) error {
	for _, cmd := range cmdList {
		found := false
		for _, got := range r.cmds {
			if len(cmd) <= len(got) && reflect.DeepEqual(cmd, got[:len(cmd)]) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("command %v not found in %v", cmd, r.cmds)
		}
	}
	return nil
}

// MatchMilestones checks the given commands were run in the given order,
// other commands are allowed in between.
func (r *FakeRunner) MatchMilestones(cmdList [][]string) error {
	next := 0
	for _, got := range r.cmds {
		if next == len(cmdList) {
			break
		}
		cmd := cmdList[next]
		if len(cmd) <= len(got) && reflect.DeepEqual(cmd, got[:len(cmd)]) {
			next++
		}
	}
	if next != len(cmdList) {
		return fmt.Errorf("milestone %v never reached in %v", cmdList[next], r.cmds)
	}
	return nil
}

func (r *FakeRunner) GetCmds() [][]string {
	return r.cmds
}

func (r *FakeRunner) GetLogger() *v1.Logger {
	return r.Logger
}

func (r *FakeRunner) SetLogger(logger *v1.Logger) {
	r.Logger = logger
}
