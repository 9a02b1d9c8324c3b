package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error

	// Sync errors
	CodeSyncRunning = "E_SYNC_RUNNING" // a batch walk is already in progress
	CodeSyncFailed  = "E_SYNC_FAILED"  // the walk aborted before completing

	// Event and index errors
	CodeDispatchFailed   = "E_DISPATCH_FAILED"   // at least one event in the notification failed
	CodeJobNotFound      = "E_JOB_NOT_FOUND"     // the indexing service does not know the job
	CodeIndexUnavailable = "E_INDEX_UNAVAILABLE" // the indexing service could not be reached
)
