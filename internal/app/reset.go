package app

import (
	"context"
	"fmt"
	"os"
)

// ResetSession abandons the current session state and starts a fresh session
// id. Stored observations and the quota ledger are untouched.
func (a *App) ResetSession(_ context.Context) error {
	mgr, err := a.newSessionManager(nil)
	if err != nil {
		return err
	}
	if err := mgr.Reset(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "session reset; new session id: %s\n", mgr.SessionID())
	return nil
}
