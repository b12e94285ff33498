package bedrock

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/aws/smithy-go"
)

// Sentinel errors for ingestion service calls.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUpstreamUnavailable indicates the job listing failed, even after the
	// throttle retry. Nothing can be reconciled without it.
	ErrUpstreamUnavailable = errors.New("ingestion service unavailable")

	// ErrThrottled indicates the service rejected a call due to rate limiting.
	ErrThrottled = errors.New("ingestion service throttled")

	// ErrConflict indicates a job is already running for the data source.
	ErrConflict = errors.New("ingestion job already in progress")
)

// throttleCodes are API error codes that mean "slow down".
var throttleCodes = map[string]bool{
	"ThrottlingException":                    true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
}

// wrapAPIError inspects an SDK error and wraps it with the matching sentinel.
// Returns the original error if it is not a recognised API error.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}

	var conflict *types.ConflictException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %s", ErrConflict, conflict.ErrorMessage())
	}

	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return fmt.Errorf("%w: %s", ErrThrottled, throttled.ErrorMessage())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "ConflictException" {
			return fmt.Errorf("%w: %s", ErrConflict, apiErr.ErrorMessage())
		}
		if throttleCodes[apiErr.ErrorCode()] {
			return fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage())
		}
	}

	return err
}
