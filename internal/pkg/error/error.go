package error

import (
	"errors"
)

//nolint:golint,gochecknoglobals // errors.New() is not const
var (
	ErrInternal            = errors.New("internal")
	ErrBadRequest          = errors.New("bad request")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrMissingRequestBody  = errors.New("missing request body")
	ErrUnmarshal           = errors.New("failed to unmarshall request body")
	ErrUnknownEnvironment  = errors.New("unknown environment")
	ErrDeploymentNotFound  = errors.New("deployment not found")
	ErrEnvironmentBusy     = errors.New("environment has a deployment in progress")
	ErrMalformedArtifacts  = errors.New("malformed artifact set")
	ErrSnapshotUnavailable = errors.New("snapshot could not be fetched")
)
