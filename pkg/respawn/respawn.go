// Package respawn implements the two terminal actions for fatal journal
// errors: respawn (process exits, next start re-runs RecoveryEngine) and
// suicide (process exits on an unrecoverable backend error). Both are
// plain os.Exit calls behind an interface so tests can substitute a
// non-exiting fake.
package respawn

import "github.com/cephmds/mdjournal/util"

// Handler is injected into mdlog.Log so background tasks never call
// os.Exit directly.
type Handler interface {
	// Respawn is invoked when the writer lease is fenced: the process
	// exits and, on restart, RecoveryEngine resolves the journal pointer
	// fresh.
	Respawn(reason string)

	// Suicide is invoked on an unknown backend write error with no
	// remaining useful action.
	Suicide(err error)
}

// Default logs via util.Fatal, which itself calls os.Exit(1).
type Default struct{}

func (Default) Respawn(reason string) {
	util.Fatal("mdlog: writer lease fenced, respawning: %s", reason)
}

func (Default) Suicide(err error) {
	util.Fatal("mdlog: unrecoverable backend error, exiting: %v", err)
}

var _ Handler = Default{}
