package mergequeue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func intLess(a, b any) bool { return a.(int) < b.(int) }

func TestPopOrdersAcrossProducers(t *testing.T) {
	var q = New(2, intLess)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer q.Done(0)
		for _, v := range []int{1, 3, 5} {
			require.NoError(t, q.Push(0, Row(v)))
		}
	}()
	go func() {
		defer wg.Done()
		defer q.Done(1)
		for _, v := range []int{2, 4, 6} {
			require.NoError(t, q.Push(1, Row(v)))
		}
	}()

	var got []int
	for {
		var item = q.Pop()
		if item.Kind == KindClosed {
			break
		}
		got = append(got, item.Row.(int))
	}
	wg.Wait()
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, got)
}

func TestSentinelsSortBeforeRows(t *testing.T) {
	var q = New(2, intLess)
	require.NoError(t, q.Push(0, Row(1)))
	require.NoError(t, q.Push(1, RowCount(3)))

	// Producer 1's RowCount is popped ahead of producer 0's row.
	var item = q.Pop()
	require.Equal(t, KindRowCount, item.Kind)

	require.NoError(t, q.Push(1, Row(7)))
	item = q.Pop()
	require.Equal(t, KindRow, item.Kind)
	require.Equal(t, 1, item.Row)

	q.Done(0)
	item = q.Pop()
	require.Equal(t, 7, item.Row)

	q.Done(1)
	item = q.Pop()
	require.Equal(t, KindClosed, item.Kind)
}

func TestPushWindowBlocksUntilPop(t *testing.T) {
	var q = New(1, intLess)
	require.NoError(t, q.Push(0, Row(1)))

	var pushed = make(chan struct{})
	go func() {
		require.NoError(t, q.Push(0, Row(2)))
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("second push should have blocked while first item unread")
	case <-time.After(20 * time.Millisecond):
	}

	require.Equal(t, 1, q.Pop().Row)
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after pop")
	}
	require.Equal(t, 2, q.Pop().Row)
}

func TestShutdownUnblocksProducersAndPop(t *testing.T) {
	var q = New(1, intLess)
	require.NoError(t, q.Push(0, Row(1)))

	var errCh = make(chan error, 1)
	go func() { errCh <- q.Push(0, Row(2)) }()

	q.Shutdown()

	require.Equal(t, ErrQueueShutdown, <-errCh)
	require.Equal(t, KindClosed, q.Pop().Kind)
}

func TestDoneWithNoItemsClosesImmediately(t *testing.T) {
	var q = New(2, intLess)
	q.Done(0)
	q.Done(1)
	require.Equal(t, KindClosed, q.Pop().Kind)
}
