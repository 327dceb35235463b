package domain

import "errors"

// Failure taxonomy for the sync path and the local stores.
var (
	// ErrTransientNetwork indicates a manifest or archive fetch failed.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrCorruptArchive indicates an archive could not be decoded.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrLocalStorage indicates the local filesystem rejected a write.
	ErrLocalStorage = errors.New("local storage failure")

	// ErrParse indicates a manifest or data document is malformed.
	ErrParse = errors.New("parse failure")

	// ErrNoManifest indicates the remote manifest is unavailable.
	ErrNoManifest = errors.New("no manifest available")

	// ErrUnsafePath indicates an archive entry resolving outside its target.
	ErrUnsafePath = errors.New("archive entry escapes target directory")

	// ErrSyncInProgress indicates a pass is already running.
	ErrSyncInProgress = errors.New("sync already in progress")

	ErrUnknownChannel = errors.New("unknown channel")
)

// FailureReason maps err to a short reason suitable for a transient notice.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoManifest):
		return "update information unavailable"
	case errors.Is(err, ErrUnsafePath), errors.Is(err, ErrCorruptArchive):
		return "downloaded content was damaged"
	case errors.Is(err, ErrTransientNetwork):
		return "network unavailable"
	case errors.Is(err, ErrLocalStorage):
		return "could not write local storage"
	case errors.Is(err, ErrParse):
		return "content could not be read"
	case errors.Is(err, ErrSyncInProgress):
		return "update already running"
	default:
		return "update failed"
	}
}
