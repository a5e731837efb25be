package main

import (
	"os"

	daemon "github.com/sevlyar/go-daemon"
)

// reborn forks the daemon process. Tests replace it.
var reborn = func(c *daemon.Context) (*os.Process, error) { return c.Reborn() }

// daemonize forks the process into the background. In the parent it
// returns parent=true and the caller should exit; in the daemon it returns a
// release func that removes the PID file.
func daemonize(pidFile string) (parent bool, release func(), err error) {
	cntxt := &daemon.Context{
		PidFileName: pidFile,
		PidFilePerm: 0o644,
		Umask:       0o027,
	}
	d, err := reborn(cntxt)
	if err != nil {
		return false, nil, err
	}
	if d != nil {
		return true, nil, nil
	}
	return false, func() { _ = cntxt.Release() }, nil
}
