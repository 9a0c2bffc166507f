//go:build !unix

package worker

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// No graceful signal exists here; both paths kill the process
func terminateGroup(p *os.Process) error {
	return p.Kill()
}

func killGroup(p *os.Process) error {
	return p.Kill()
}
