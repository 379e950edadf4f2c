// Package daemon manages the background process lifecycle: PID file
// bookkeeping, liveness checks, and forking the daemon child.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// childEnv marks the re-executed child so it skips the fork step.
const childEnv = "QUICKSWITCH_DAEMON_CHILD"

type Daemon struct {
	pidFile string
}

func New(pidFile string) *Daemon {
	return &Daemon{pidFile: pidFile}
}

func (d *Daemon) WritePID() error {
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return errors.Wrap(err, "write PID file")
	}
	return nil
}

func (d *Daemon) ReadPID() (int, error) {
	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read PID file")
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, errors.Wrap(err, "parse PID file")
	}

	return pid, nil
}

func (d *Daemon) RemovePID() error {
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove PID file")
	}
	return nil
}

// IsRunning reports whether the recorded process is alive. A stale PID file
// is removed along the way.
func (d *Daemon) IsRunning() (bool, int, error) {
	pid, err := d.ReadPID()
	if err != nil {
		return false, 0, err
	}

	if pid == 0 {
		return false, 0, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		d.RemovePID()
		return false, 0, nil
	}

	return true, pid, nil
}

// IsChild reports whether this process is the re-executed daemon child.
func IsChild() bool {
	return os.Getenv(childEnv) == "1"
}

// Spawn re-executes the current binary detached from the terminal and
// returns the child PID.
func (d *Daemon) Spawn(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, errors.Wrap(err, "resolve executable")
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=1", childEnv))
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "start daemon child")
	}
	return cmd.Process.Pid, nil
}

// Stop signals the running daemon with SIGTERM and clears the PID file.
func (d *Daemon) Stop() error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return errors.Wrap(err, "check daemon status")
	}

	if !running {
		return errors.New("daemon is not running or PID file is stale")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrap(err, "find process")
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if err.Error() == "os: process already finished" {
			_ = d.RemovePID()
			return errors.New("daemon process already terminated")
		}
		return errors.Wrap(err, "send SIGTERM")
	}

	if err := d.RemovePID(); err != nil {
		return err
	}

	return nil
}
