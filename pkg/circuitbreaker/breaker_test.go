package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
		FailureRatio:     0.5,
		MinRequests:      100, // keep the ratio rule out of these tests
	}
}

func TestExecuteSuccess(t *testing.T) {
	cb, err := New(testConfig("ok"), nil)
	if err != nil {
		t.Fatalf("new breaker: %v", err)
	}

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.(int) != 42 {
		t.Errorf("result: got %v, want 42", result)
	}
	if cb.IsOpen() {
		t.Error("circuit should stay closed after a success")
	}
}

func TestExecutePassesThroughErrors(t *testing.T) {
	cb, err := New(testConfig("fail"), nil)
	if err != nil {
		t.Fatalf("new breaker: %v", err)
	}

	boom := errors.New("boom")
	if _, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Errorf("error: got %v, want boom", err)
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb, err := New(testConfig("trip"), nil)
	if err != nil {
		t.Fatalf("new breaker: %v", err)
	}

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, errors.New("down")
		})
	}

	if !cb.IsOpen() {
		t.Fatal("circuit should open after the failure threshold")
	}

	// The protected call must not run while open.
	called := false
	if _, err := cb.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	}); err == nil {
		t.Error("open circuit should reject the call")
	}
	if called {
		t.Error("protected call ran through an open circuit")
	}
}

func TestFallbackOnOpenCircuit(t *testing.T) {
	cb, err := New(testConfig("fallback"), nil)
	if err != nil {
		t.Fatalf("new breaker: %v", err)
	}

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, errors.New("down")
		})
	}

	result, err := cb.ExecuteWithFallback(context.Background(),
		func() (interface{}, error) { return nil, errors.New("unreachable") },
		func(cause error) (interface{}, error) { return "fallback-value", nil })
	if err != nil {
		t.Fatalf("fallback should absorb the rejection: %v", err)
	}
	if result.(string) != "fallback-value" {
		t.Errorf("result: got %v", result)
	}
}

func TestFallbackNotUsedWhileClosed(t *testing.T) {
	cb, err := New(testConfig("closed"), nil)
	if err != nil {
		t.Fatalf("new breaker: %v", err)
	}

	boom := errors.New("boom")
	if _, err := cb.ExecuteWithFallback(context.Background(),
		func() (interface{}, error) { return nil, boom },
		func(cause error) (interface{}, error) { return "fallback-value", nil },
	); !errors.Is(err, boom) {
		t.Errorf("closed-circuit failure should surface, got %v", err)
	}
}
