package client

import (
	"errors"
	"fmt"
	"time"
)

// The error taxonomy for external generation and asset IO. The
// orchestrator retries timeouts and asset IO a bounded number of
// times; provider rejections are terminal for the job.

// ProviderTimeoutError means an external generation task did not reach
// a terminal state within its allotted window.
type ProviderTimeoutError struct {
	Provider string
	Handle   string
	Waited   time.Duration
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("%s task %s timed out after %v", e.Provider, e.Handle, e.Waited)
}

// ProviderRejectedError means the provider reported a terminal failure
// for the task itself; retrying with unchanged inputs will not help.
type ProviderRejectedError struct {
	Provider string
	Handle   string
	Reason   string
}

func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("%s rejected task %s: %s", e.Provider, e.Handle, e.Reason)
}

// AssetIOError wraps a failure to move bytes between the provider, the
// local disk, and the asset store.
type AssetIOError struct {
	Op  string // "download", "upload"
	Key string
	Err error
}

func (e *AssetIOError) Error() string {
	return fmt.Sprintf("asset %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *AssetIOError) Unwrap() error { return e.Err }

// IsRetriable reports whether the orchestrator may retry the step with
// unchanged inputs. Rejections are never retriable.
func IsRetriable(err error) bool {
	var timeout *ProviderTimeoutError
	var assetIO *AssetIOError
	return errors.As(err, &timeout) || errors.As(err, &assetIO)
}
