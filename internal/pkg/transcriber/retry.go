package transcriber

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/transponster/bot/internal/pkg/cmdapp"
)

// Transcriber converts a local audio/video file to word level text
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (*Result, error)
}

// Notify is called before each retry with the error that caused it
type Notify func(err error)

// BackOffProvider supplies a fresh retry policy per call
type BackOffProvider interface {
	Get() backoff.BackOff
}

type constantBackOffProvider struct {
	delay    time.Duration
	maxRetry uint64
}

func (bp *constantBackOffProvider) Get() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(bp.delay), bp.maxRetry)
}

// RetryingClient retries server failures of the wrapped transcriber.
// Client errors and decode failures propagate immediately.
type RetryingClient struct {
	tr Transcriber
	bp BackOffProvider
}

// NewRetryingClient wraps a transcriber with the configured retry policy.
// Two total attempts with a fixed delay in between by default.
func NewRetryingClient(tr Transcriber) (*RetryingClient, error) {
	if tr == nil {
		return nil, errors.New("No transcriber")
	}
	delay := cmdapp.Config.GetDuration("asr.retry.delay")
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &RetryingClient{tr: tr, bp: &constantBackOffProvider{delay: delay, maxRetry: 1}}, nil
}

// Transcribe calls the wrapped transcriber, retrying server errors only.
// notify may be nil.
func (c *RetryingClient) Transcribe(ctx context.Context, filePath string, notify Notify) (*Result, error) {
	var res *Result
	op := func() error {
		var err error
		res, err = c.tr.Transcribe(ctx, filePath)
		if err == nil {
			return nil
		}
		var srvErr *ServerError
		if errors.As(err, &srvErr) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.RetryNotify(op, c.bp.Get(), func(err error, d time.Duration) {
		cmdapp.Log.Warnf("Transcription failed, retrying in %v: %v", d, err)
		if notify != nil {
			notify(err)
		}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
