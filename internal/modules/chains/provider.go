package chains

import "context"

// Provider fetches the option chain for one underlying. Implementations must
// honor ctx cancellation and return *domain.ProviderError for fetch failures
// so Stage 2 can classify them per symbol.
type Provider interface {
	FetchChain(ctx context.Context, symbol string) (*Chain, error)
}
