package apidelegate

// APIDelegate abstracts the transport of the deployment API away from the
// engine so it can be tested without HTTP.
type APIDelegate interface {
	ExtractCreateParams() (environment, snapshotRef string, err error)
	ExtractRunID() (string, error)
	ExtractClientToken() (string, error)
	HandleError(err error, msg string)
	HandleSuccess(response any)
	HandleAccepted(response any)
}
