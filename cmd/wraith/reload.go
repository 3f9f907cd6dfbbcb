package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
)

// registerReload registers the `reload` thin client: send SIGHUP to the
// running wraith process named in pidFile, per SPEC_FULL.md section C.
func registerReload(app *kingpin.Application) (*kingpin.CmdClause, *string) {
	cmd := app.Command("reload", "Ask a running wraith to reload its configuration.")
	pidFile := cmd.Flag("pid-file", "Path to the running wraith's pid file.").Default(defaultPIDFile).String()
	return cmd, pidFile
}

func doReload(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("signaling process %d: %w", pid, err)
	}
	fmt.Printf("sent reload signal to pid %d\n", pid)
	return nil
}
