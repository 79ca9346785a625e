package messaging

import (
	"context"
	"time"

	"github.com/glimte/burrow/contracts"
	"github.com/sethvargo/go-retry"
)

// DefaultPublishBackoff retries up to 5 times with a fibonacci backoff
// starting at 100ms, capped at 2s per wait.
func DefaultPublishBackoff() retry.Backoff {
	backoff := retry.NewFibonacci(100 * time.Millisecond)
	backoff = retry.WithMaxRetries(5, backoff)
	return retry.WithCappedDuration(2*time.Second, backoff)
}

// PublishWithRetry publishes payload, retrying transport failures with
// backoff. Serialization and configuration failures are returned at once.
// A nil backoff uses DefaultPublishBackoff.
func PublishWithRetry[T any](ctx context.Context, p *Producer[T], payload T, backoff retry.Backoff, overrides ...PropertyMutator) error {
	if backoff == nil {
		backoff = DefaultPublishBackoff()
	}

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := p.Publish(ctx, payload, overrides...)
		if err == nil {
			return nil
		}
		if contracts.IsRetryable(err) {
			p.logger.Warn("publish failed, retrying",
				"exchange", p.metadata.ExchangeName,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
}
