// Package launcher declares the interface for starting an assistant CLI in
// a terminal pane and writing its initial session descriptor. Process
// supervision/launching ("ccb up <provider>") is out of scope for the
// broker core; this package exists only so callers can depend on the
// interface without the broker importing a concrete launcher.
package launcher

import "context"

// Launcher starts a provider's assistant CLI in a freshly created (or
// reused) terminal pane and returns the pane id it ended up in.
type Launcher interface {
	Launch(ctx context.Context, provider, workDir, startCmd string) (paneID string, err error)
}

// Unimplemented is a Launcher that always reports the capability is absent,
// for callers that want to depend on the interface today without a
// concrete backend wired in yet.
type Unimplemented struct{}

func (Unimplemented) Launch(ctx context.Context, provider, workDir, startCmd string) (string, error) {
	return "", errLauncherNotImplemented
}

var errLauncherNotImplemented = launcherError("ccb up <provider> is not implemented by this broker")

type launcherError string

func (e launcherError) Error() string { return string(e) }
