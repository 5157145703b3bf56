package tests

import (
	"sync"
	"testing"
	"time"

	"github.com/jaydenbeard/messaging-app/internal/security"
)

// MockDB is a simple mock database for testing
type MockDB struct{}

func (m *MockDB) Begin() (*MockTx, error) {
	return &MockTx{}, nil
}

func (m *MockDB) Exec(query string, args ...interface{}) (interface{}, error) {
	return nil, nil
}

// MockTx is a simple mock transaction
type MockTx struct{}

func (m *MockTx) Prepare(query string) (*MockStmt, error) {
	return &MockStmt{}, nil
}

func (m *MockTx) Rollback() error {
	return nil
}

func (m *MockTx) Commit() error {
	return nil
}

// MockStmt is a simple mock statement
type MockStmt struct{}

func (m *MockStmt) Exec(args ...interface{}) (interface{}, error) {
	return nil, nil
}

func (m *MockStmt) Close() error {
	return nil
}

func TestConcurrencyLimitingUnitTests(t *testing.T) {
	t.Run("Semaphore should limit concurrent overflow operations", func(t *testing.T) {
		// Create audit logger with very limited concurrency
		config := &security.AuditConfig{
			MaxConcurrentOverflows: 10,   // Valid limit for testing
			QueueSize:              1000, // Minimum required by validation
			BatchSize:              100,
			MaxRetries:             3,
			FlushInterval:          5 * time.Second,
			BaseRetryDelay:         100 * time.Millisecond,
		}

		// Test the configuration validation which is the core part
		// that prevents resource exhaustion

		err := security.ValidateAuditConfig(config)
		if err != nil {
			t.Errorf("Valid config failed validation: %v", err)
		}
	})

	t.Run("Configuration validation should prevent excessive concurrency", func(t *testing.T) {
		// Test that validation prevents excessively high concurrency limits
		config := &security.AuditConfig{
			MaxConcurrentOverflows: 150, // Exceeds maximum
			QueueSize:              1000,
			BatchSize:              100,
			MaxRetries:             3,
			FlushInterval:          5 * time.Second,
		}

		err := security.ValidateAuditConfig(config)
		if err == nil {
			t.Error("Expected validation to fail for MaxConcurrentOverflows = 150")
		} else if err.Error() != "MaxConcurrentOverflows must not exceed 100 to prevent resource exhaustion" {
			t.Errorf("Unexpected error message: %v", err)
		}
	})

	t.Run("Boundary values should be accepted", func(t *testing.T) {
		// Test minimum boundary
		configMin := &security.AuditConfig{
			MaxConcurrentOverflows: 5,    // Minimum for data loss prevention
			QueueSize:              1000, // Minimum required
			BatchSize:              100,
			MaxRetries:             3,
			FlushInterval:          5 * time.Second,
			BaseRetryDelay:         100 * time.Millisecond,
		}

		err := security.ValidateAuditConfig(configMin)
		if err != nil {
			t.Errorf("Min boundary config failed validation: %v", err)
		}

		// Test maximum boundary
		configMax := &security.AuditConfig{
			MaxConcurrentOverflows: 100,
			QueueSize:              1000,
			BatchSize:              100,
			MaxRetries:             3,
			FlushInterval:          5 * time.Second,
			BaseRetryDelay:         100 * time.Millisecond,
		}

		err = security.ValidateAuditConfig(configMax)
		if err != nil {
			t.Errorf("Max boundary config failed validation: %v", err)
		}
	})
}

func TestSemaphoreBehavior(t *testing.T) {
	t.Run("Semaphore channel behavior test", func(t *testing.T) {
		// Test the basic semaphore pattern used in the audit logger
		semaphore := make(chan struct{}, 3) // Limit of 3 concurrent operations

		var wg sync.WaitGroup
		concurrentOps := 0
		var mu sync.Mutex

		// Launch more goroutines than the semaphore allows
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()

				// Acquire semaphore slot
				semaphore <- struct{}{}

				mu.Lock()
				currentOps := concurrentOps
				concurrentOps++
				mu.Unlock()

				// Simulate work
				time.Sleep(10 * time.Millisecond)

				// Check that we never exceed the limit
				if currentOps > 3 {
					t.Errorf("Semaphore limit exceeded: got %d concurrent operations", currentOps)
				}

				mu.Lock()
				concurrentOps--
				mu.Unlock()

				// Release semaphore slot
				<-semaphore
			}(i)
		}

		wg.Wait()
	})

	t.Run("Semaphore should block when full", func(t *testing.T) {
		semaphore := make(chan struct{}, 2) // Limit of 2

		// Fill the semaphore
		semaphore <- struct{}{}
		semaphore <- struct{}{}

		// Try to acquire another slot - this should block
		done := make(chan bool)

		go func() {
			semaphore <- struct{}{}
			done <- true
		}()

		// Give it a moment to see if it blocks
		select {
		case <-done:
			t.Error("Semaphore did not block when full")
		case <-time.After(50 * time.Millisecond):
			// Expected - the goroutine should be blocked
		}

		// Release one slot
		<-semaphore

		// Now the blocked goroutine should proceed
		select {
		case <-done:
			// Success - semaphore worked correctly
		case <-time.After(500 * time.Millisecond):
			t.Error("Semaphore did not release correctly")
		}
	})
}

func TestAuditConfigurationEdgeCases(t *testing.T) {
	t.Run("Zero MaxConcurrentOverflows should fail validation", func(t *testing.T) {
		config := &security.AuditConfig{
			MaxConcurrentOverflows: 0,
			QueueSize:              1000,
			BatchSize:              100,
			MaxRetries:             3,
			FlushInterval:          5 * time.Second,
			BaseRetryDelay:         100 * time.Millisecond,
		}

		err := security.ValidateAuditConfig(config)
		if err == nil {
			t.Error("Expected validation to fail for MaxConcurrentOverflows = 0")
		}
		// Data loss prevention validation catches this first
	})

	t.Run("Negative MaxConcurrentOverflows should fail validation", func(t *testing.T) {
		config := &security.AuditConfig{
			MaxConcurrentOverflows: -1,
			QueueSize:              1000,
			BatchSize:              100,
			MaxRetries:             3,
			FlushInterval:          5 * time.Second,
			BaseRetryDelay:         100 * time.Millisecond,
		}

		err := security.ValidateAuditConfig(config)
		if err == nil {
			t.Error("Expected validation to fail for MaxConcurrentOverflows = -1")
		}
	})

	t.Run("Very high MaxConcurrentOverflows should fail validation", func(t *testing.T) {
		config := &security.AuditConfig{
			MaxConcurrentOverflows: 1000,
			QueueSize:              1000,
			BatchSize:              100,
			MaxRetries:             3,
			FlushInterval:          5 * time.Second,
			BaseRetryDelay:         100 * time.Millisecond,
		}

		err := security.ValidateAuditConfig(config)
		if err == nil {
			t.Error("Expected validation to fail for MaxConcurrentOverflows = 1000")
		}
	})
}
