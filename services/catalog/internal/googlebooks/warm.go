package googlebooks

import (
	"context"
	"errors"

	"bookshelf/pkg/queue"
)

// Warm is a queue.Handler that fills the metadata cache for a queued book.
// A "no match" answer is cached like any other result; upstream failures are
// returned so the queue retries them.
func (c *Client) Warm(ctx context.Context, job queue.Job) error {
	md := c.FetchMetadata(ctx, job.Title, job.Author)
	if md.Found() || md.Error == NotFoundError {
		return nil
	}
	return errors.New(md.Error)
}
