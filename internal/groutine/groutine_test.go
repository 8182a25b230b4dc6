package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NamesContextAndSignalsDone(t *testing.T) {
	names := make(chan string, 1)

	done := Go(context.Background(), "worker-42", func(ctx context.Context) {
		names <- Name(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}
	assert.Equal(t, "worker-42", <-names)
}

func TestGo_NilParent(t *testing.T) {
	//nolint:staticcheck // nil parent is part of the contract
	done := Go(nil, "nil-parent", func(ctx context.Context) {})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}
}

func TestName_Unnamed(t *testing.T) {
	assert.Equal(t, "", Name(context.Background()))
	//nolint:staticcheck
	assert.Equal(t, "", Name(nil))
}
