package errors

import "github.com/rotisserie/eris"

var (
	// Remote side
	RemoteNotFoundError = eris.New("remote path does not exist")
	NotADirectoryError  = eris.New("remote path exists but is not a directory")
	NotConnectedError   = eris.New("storage session is not connected")

	// Local side
	LocalFileMissingError = eris.New("local path does not exist")

	// Configuration
	NoTargetEnabledError        = eris.New("no deploy target enabled")
	MultipleTargetsEnabledError = eris.New("more than one deploy target enabled")
	InvalidRemotePathError      = eris.New("invalid remote path")
	DefaultPasswordError        = eris.New("password is still the example placeholder")
	HistoryDisabledError        = eris.New("deployment history is not enabled in the config (history.dynamodb.enabled)")

	DeploymentInProgressError = eris.New("deployment already in progress")
)

func NewInvalidRemotePathWithReasonError(remote, reason string) error {
	return eris.Wrapf(InvalidRemotePathError, "%s: %s", remote, reason)
}
