package supervisor

import (
	"os"
	"strings"

	"github.com/prometheus/procfs"
)

type procInspector struct{}

func newInspector() inspector {
	return procInspector{}
}

func (procInspector) CmdLine(pid int) ([]string, error) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return nil, err
	}
	return p.CmdLine()
}

func (procInspector) Alive(pid int) bool {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return false
	}
	stat, err := p.Stat()
	if err != nil {
		return false
	}
	return !isZombie(stat.State)
}

func (procInspector) GroupMembers(pgid int) []int {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil
	}

	self := os.Getpid()
	var members []int
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		if stat.PGRP == pgid && stat.PID != self && !isZombie(stat.State) {
			members = append(members, stat.PID)
		}
	}
	return members
}

func isZombie(state string) bool {
	return strings.HasPrefix(state, "Z") || strings.HasPrefix(state, "X")
}
