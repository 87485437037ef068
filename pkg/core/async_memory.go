// Package core provides the main Recall client and memory management functionality.
package core

import (
	"context"
	"sync"
	"time"
)

// AsyncClient provides asynchronous Recall operations.
//
// It wraps the synchronous Client and executes all operations in separate
// goroutines, making it suitable for scenarios requiring concurrent
// processing of multiple operations. Per-user exclusion still holds: two
// async writes for the same user serialize inside the underlying client.
//
// All async methods return channels that will receive the results when
// operations complete. The client tracks all goroutines and provides Wait()
// to ensure all operations finish.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.AddAsync(ctx, "user_001", "Likes Go")
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous Recall client.
func NewAsyncClient(cfg *Config) (*AsyncClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{
		Client: client,
	}, nil
}

// AddAsync adds a memory asynchronously.
func (ac *AsyncClient) AddAsync(ctx context.Context, userID, content string, opts ...AddOption) <-chan *MemoryResult {
	resultChan := make(chan *MemoryResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		item, err := ac.Add(ctx, userID, content, opts...)
		resultChan <- &MemoryResult{
			Memory: item,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// ProcessTurnAsync processes a conversation turn asynchronously.
//
// Useful for agent loops that want to reply to the user immediately and let
// memory consolidation happen in the background.
func (ac *AsyncClient) ProcessTurnAsync(ctx context.Context, userID, userInput, assistantResponse string, opts ...ProcessTurnOption) <-chan *TurnResultAsync {
	resultChan := make(chan *TurnResultAsync, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.ProcessTurn(ctx, userID, userInput, assistantResponse, opts...)
		resultChan <- &TurnResultAsync{
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// SearchAsync searches memories asynchronously.
func (ac *AsyncClient) SearchAsync(ctx context.Context, userID, query string, opts ...SearchOption) <-chan *AsyncSearchResult {
	resultChan := make(chan *AsyncSearchResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.Search(ctx, userID, query, opts...)
		resultChan <- &AsyncSearchResult{
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// GetAsync retrieves a memory by ID asynchronously.
func (ac *AsyncClient) GetAsync(ctx context.Context, userID, id string) <-chan *MemoryResult {
	resultChan := make(chan *MemoryResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		item, err := ac.Get(ctx, userID, id)
		resultChan <- &MemoryResult{
			Memory: item,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// GetAllAsync retrieves all of a user's memories asynchronously.
func (ac *AsyncClient) GetAllAsync(ctx context.Context, userID string, opts ...GetAllOption) <-chan *AsyncGetAllResult {
	resultChan := make(chan *AsyncGetAllResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		memories, err := ac.GetAll(ctx, userID, opts...)
		resultChan <- &AsyncGetAllResult{
			Memories: memories,
			Error:    err,
		}
		close(resultChan)
	}()

	return resultChan
}

// UpdateAsync updates a memory asynchronously.
func (ac *AsyncClient) UpdateAsync(ctx context.Context, userID, id, content string) <-chan *MemoryResult {
	resultChan := make(chan *MemoryResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		item, err := ac.Update(ctx, userID, id, content)
		resultChan <- &MemoryResult{
			Memory: item,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// DeleteAsync deletes a memory asynchronously.
func (ac *AsyncClient) DeleteAsync(ctx context.Context, userID, id string) <-chan error {
	errChan := make(chan error, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		errChan <- ac.Delete(ctx, userID, id)
		close(errChan)
	}()

	return errChan
}

// ResetAsync deletes all of a user's memories asynchronously.
func (ac *AsyncClient) ResetAsync(ctx context.Context, userID string) <-chan error {
	errChan := make(chan error, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		errChan <- ac.Reset(ctx, userID)
		close(errChan)
	}()

	return errChan
}

// Wait waits for all asynchronous operations to complete.
//
// This method blocks until all goroutines started by async methods have
// finished. It should be called before program exit to ensure all operations
// complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// WaitTimeout waits for all asynchronous operations to complete, giving up
// after the given duration. Returns true if all operations finished in time.
func (ac *AsyncClient) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		ac.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Close closes the asynchronous client.
//
// It first waits for all asynchronous operations to complete, then closes
// the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}

// MemoryResult contains the result of a memory operation.
type MemoryResult struct {
	// Memory is the memory returned by the operation (nil if error occurred).
	Memory *MemoryItem

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// TurnResultAsync contains the result of an asynchronous ProcessTurn
// operation.
type TurnResultAsync struct {
	// Result is the turn outcome (nil if error occurred).
	Result *TurnResult

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// AsyncSearchResult contains the result of an asynchronous search operation.
type AsyncSearchResult struct {
	// Result is the search outcome (nil if error occurred).
	Result *SearchResult

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// AsyncGetAllResult contains the result of an asynchronous GetAll operation.
type AsyncGetAllResult struct {
	// Memories is the list of memories.
	Memories []*MemoryItem

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}
