package core

import (
	"context"
	"sync"
)

// AsyncClient runs engine operations in goroutines.
//
// It wraps the synchronous Client. Every async method returns a buffered
// channel that receives exactly one result and is then closed, so callers
// may drop the channel without leaking the goroutine. Wait blocks until all
// started operations have finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.StoreAsync(ctx, req)
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous client.
//
// Parameters:
//   - cfg: Client configuration
//
// Returns:
//   - *AsyncClient: The asynchronous client instance
//   - error: Error if configuration is invalid or initialization fails
func NewAsyncClient(cfg *Config) (*AsyncClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

// NewAsync wraps an existing Client.
func NewAsync(client *Client) *AsyncClient {
	return &AsyncClient{Client: client}
}

// goAsync runs op in a tracked goroutine and delivers its result on a
// one-slot channel.
func goAsync[T any](wg *sync.WaitGroup, op func() T) <-chan T {
	ch := make(chan T, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch <- op()
		close(ch)
	}()
	return ch
}

// StoreAsync stores a memory asynchronously.
//
// Parameters:
//   - ctx: Context for controlling request lifecycle
//   - req: The observation to store
//
// Returns:
//   - <-chan *StoreAsyncResult: Channel that receives the result
func (ac *AsyncClient) StoreAsync(ctx context.Context, req *StoreRequest) <-chan *StoreAsyncResult {
	return goAsync(&ac.wg, func() *StoreAsyncResult {
		res, err := ac.Store(ctx, req)
		return &StoreAsyncResult{Result: res, Error: err}
	})
}

// RetrieveAsync retrieves memories asynchronously.
//
// Parameters:
//   - ctx: Context for controlling request lifecycle
//   - req: The query
//   - opts: Ranking options
//
// Returns:
//   - <-chan *RetrieveAsyncResult: Channel that receives the result
func (ac *AsyncClient) RetrieveAsync(ctx context.Context, req *RetrieveRequest, opts ...RetrieveOption) <-chan *RetrieveAsyncResult {
	return goAsync(&ac.wg, func() *RetrieveAsyncResult {
		res, err := ac.Retrieve(ctx, req, opts...)
		return &RetrieveAsyncResult{Result: res, Error: err}
	})
}

// ConsolidateAsync runs a consolidation asynchronously.
func (ac *AsyncClient) ConsolidateAsync(ctx context.Context, req *ConsolidateRequest) <-chan *ConsolidateAsyncResult {
	return goAsync(&ac.wg, func() *ConsolidateAsyncResult {
		res, err := ac.Consolidate(ctx, req)
		return &ConsolidateAsyncResult{Result: res, Error: err}
	})
}

// ForgetAsync forgets memories asynchronously.
func (ac *AsyncClient) ForgetAsync(ctx context.Context, req *ForgetRequest) <-chan *ForgetAsyncResult {
	return goAsync(&ac.wg, func() *ForgetAsyncResult {
		res, err := ac.Forget(ctx, req)
		return &ForgetAsyncResult{Result: res, Error: err}
	})
}

// Wait waits for all asynchronous operations to complete, including the
// background work they started.
//
// This method blocks until all goroutines started by async methods have finished.
// It should be called before program exit to ensure all operations complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
	ac.Client.Wait()
}

// Close closes the asynchronous client.
//
// It first waits for all asynchronous operations to complete, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.wg.Wait()
	return ac.Client.Close()
}

// StoreAsyncResult contains the result of an asynchronous Store.
type StoreAsyncResult struct {
	Result *StoreResult

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// RetrieveAsyncResult contains the result of an asynchronous Retrieve.
type RetrieveAsyncResult struct {
	Result *RetrieveResult
	Error  error
}

// ConsolidateAsyncResult contains the result of an asynchronous Consolidate.
type ConsolidateAsyncResult struct {
	Result *ConsolidationResult
	Error  error
}

// ForgetAsyncResult contains the result of an asynchronous Forget.
type ForgetAsyncResult struct {
	Result *ForgetResult
	Error  error
}
