//go:build !linux

package supervisor

import (
	"errors"
	"syscall"
)

var errNoProcfs = errors.New("process inspection not supported on this platform")

// sysInspector cannot read command lines, so orphans are never positively
// identified and only the persisted state is reset.
type sysInspector struct{}

func newInspector() inspector {
	return sysInspector{}
}

func (sysInspector) CmdLine(int) ([]string, error) {
	return nil, errNoProcfs
}

func (sysInspector) Alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func (sysInspector) GroupMembers(int) []int {
	return nil
}
