package resilient

import (
	"time"

	"github.com/migadu/mailfeed/pkg/retry"
)

// Reads happen at the start of every delivery and are cheap to repeat.
var getRetryConfig = retry.BackoffConfig{
	InitialInterval: 250 * time.Millisecond,
	MaxInterval:     3 * time.Second,
	Multiplier:      2.0,
	Jitter:          true,
	MaxRetries:      3,
}

// Puts overwrite whole objects, so repeating one is safe.
var putRetryConfig = retry.BackoffConfig{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2.0,
	Jitter:          true,
	MaxRetries:      3,
}

// Deletes are best-effort cleanup; give up quickly.
var deleteRetryConfig = retry.BackoffConfig{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	Multiplier:      2.0,
	Jitter:          true,
	MaxRetries:      1,
}
