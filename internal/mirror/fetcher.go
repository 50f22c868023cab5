package mirror

import (
	"context"

	"github.com/roach88/specmut/internal/mutation"
	"github.com/roach88/specmut/internal/store"
)

// StoreFetcher adapts the record store to the Fetcher interface for
// in-process mirrors.
type StoreFetcher struct {
	Store *store.Store
}

func (f StoreFetcher) FetchMutation(ctx context.Context, id string) (mutation.Mutation, error) {
	return f.Store.GetMutation(ctx, id)
}

func (f StoreFetcher) FetchApproval(ctx context.Context, id string) (mutation.ApprovalRequest, error) {
	return f.Store.GetApproval(ctx, id)
}
