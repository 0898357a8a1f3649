package swr

import (
	"context"

	"github.com/webitel/change-relay/infra/client/fetch"
)

// HTTPFetcher treats keys as paths under baseURL and decodes JSON responses.
// Retries with a fixed delay come from the fetch client.
func HTTPFetcher[T any](client *fetch.Client, baseURL string) Fetcher[T] {
	return func(ctx context.Context, key string) (T, error) {
		return fetch.GetJSON[T](ctx, client, baseURL+key)
	}
}
