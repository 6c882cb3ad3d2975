package internal

import (
	"fmt"
	"time"
)

// MediaAcquisitionError reports that the local camera could not be opened or
// exposes no usable media.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// GatheringTimeoutError reports that candidate gathering did not finish
// within the configured deadline.
type GatheringTimeoutError struct {
	Timeout time.Duration
}

func (e *GatheringTimeoutError) Error() string {
	return fmt.Sprintf("candidate gathering did not complete within %s", e.Timeout)
}
