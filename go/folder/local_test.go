package folder

import (
	"context"
	"errors"
	"testing"

	"github.com/estuary/viewmerge/go/index"
	"github.com/estuary/viewmerge/go/mergequeue"
	"github.com/stretchr/testify/require"
)

func TestLocalFolderPublishesRowsThenDone(t *testing.T) {
	var q = mergequeue.New(1, nil)
	var fw = &LocalFolder{
		ProducerID: 0,
		Source:     "local-a",
		Fold: func(ctx context.Context, push func(mergequeue.Item) error) error {
			if err := push(mergequeue.RowCount(2)); err != nil {
				return err
			}
			if err := push(mergequeue.Row(1)); err != nil {
				return err
			}
			return push(mergequeue.Row(3))
		},
	}
	go fw.Run(t.Context(), q)

	require.Equal(t, mergequeue.RowCount(2), q.Pop())
	require.Equal(t, 1, q.Pop().Row)
	require.Equal(t, 3, q.Pop().Row)
	require.Equal(t, mergequeue.KindClosed, q.Pop().Kind)
}

func TestLocalFolderSurfacesFoldError(t *testing.T) {
	var q = mergequeue.New(1, nil)
	var boom = errors.New("boom")
	var fw = &LocalFolder{
		ProducerID: 0,
		Source:     "local-a",
		Fold: func(ctx context.Context, push func(mergequeue.Item) error) error {
			return boom
		},
	}
	go fw.Run(t.Context(), q)

	require.Equal(t, mergequeue.Error("local-a", "boom"), q.Pop())
	require.Equal(t, mergequeue.KindClosed, q.Pop().Kind)
}

var _ index.FoldFunc // compile-time shape check against the index contract.
