package workerpool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCollectsResultsInOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	results, err := Run(context.Background(), New(2), items, func(_ context.Context, n int) (int, error) {
		return n * n, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 4, 9, 16, 25}, results)
}

func TestRunPropagatesFirstError(t *testing.T) {
	items := []int{1, 2, 3}
	boom := errors.New("boom")
	_, err := Run(context.Background(), New(0), items, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})
	require.Error(t, err)
}

func TestRunRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, New(1), []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
