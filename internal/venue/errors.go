package venue

import (
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

var errPositionIsZero = errors.New("position is zero")

// IsPositionZero reports whether err is the well-known business reject the
// close-position recovery path (§4.5) recognizes.
func IsPositionZero(err error) bool {
	return errors.Is(err, errPositionIsZero)
}

// NewPositionIsZeroError builds an error satisfying IsPositionZero, for
// test doubles that need to simulate the destination venue's reject.
func NewPositionIsZeroError() error {
	return fmt.Errorf("close position: %w", errPositionIsZero)
}

// classifyTransport wraps a resty-level transport error (dial failure,
// timeout, non-2xx after retries) as retryable.
func classifyTransport(err error) error {
	return fmt.Errorf("venue transport: %w", err)
}

// checkEnvelope turns a non-zero retCode into an error. Codes are treated
// as permanent unless the caller specifically recognizes one (like
// businessRejectPositionZero in ClosePosition).
func checkEnvelope(resp *resty.Response, retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	if resp != nil && resp.StatusCode() >= 500 {
		return fmt.Errorf("venue error %d: %s (retryable)", retCode, retMsg)
	}
	return fmt.Errorf("venue error %d: %s", retCode, retMsg)
}
