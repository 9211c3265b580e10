package folder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/estuary/viewmerge/go/index"
	"github.com/estuary/viewmerge/go/mergequeue"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, q *mergequeue.Queue, n int) []mergequeue.Item {
	t.Helper()
	var items []mergequeue.Item
	for i := 0; i < n; i++ {
		items = append(items, q.Pop())
	}
	return items
}

func TestRemoteFolderStreamsRowsAndCount(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"total_rows":3,"rows":[2,4,6]}`))
	}))
	defer srv.Close()

	var q = mergequeue.New(1, nil)
	var fw = &RemoteFolder{
		ProducerID: 0,
		Source:     "remote-b",
		Spec:       index.RemoteSpec{URL: srv.URL},
	}
	go fw.Run(t.Context(), q)

	require.Equal(t, mergequeue.RowCount(3), q.Pop())
	require.Equal(t, mergequeue.KindRow, q.Pop().Kind)
	require.Equal(t, mergequeue.KindRow, q.Pop().Kind)
	require.Equal(t, mergequeue.KindRow, q.Pop().Kind)
	q.Done(0) // only producer; nothing else to wait on.
	require.Equal(t, mergequeue.KindClosed, q.Pop().Kind)
}

func TestRemoteFolderNon200ErrorTranslation(t *testing.T) {
	var cases = []struct {
		name string
		body map[string]string
		want mergequeue.Item
	}{
		{"not_found_other_reason", map[string]string{"error": "not_found", "reason": "x"}, mergequeue.Error("remote-b", "x")},
		{"not_found_missing", map[string]string{"error": "not_found", "reason": "missing"}, mergequeue.Error("remote-b", "not_found")},
		{"revision_mismatch", map[string]string{"error": "error", "reason": "revision_mismatch"}, mergequeue.RevisionMismatch},
		{"set_view_outdated", map[string]string{"error": "error", "reason": "set_view_outdated"}, mergequeue.SetViewOutdated},
		{"other_reason", map[string]string{"error": "error", "reason": "boom"}, mergequeue.Error("remote-b", "boom")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				var raw, _ = json.Marshal(tc.body)
				_, _ = w.Write(raw)
			}))
			defer srv.Close()

			var q = mergequeue.New(1, nil)
			var fw = &RemoteFolder{ProducerID: 0, Source: "remote-b", Spec: index.RemoteSpec{URL: srv.URL}}
			go fw.Run(t.Context(), q)

			require.Equal(t, tc.want, q.Pop())
			require.Equal(t, mergequeue.KindClosed, q.Pop().Kind)
		})
	}
}

func TestRemoteFolderUnparseableBody(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var q = mergequeue.New(1, nil)
	var fw = &RemoteFolder{ProducerID: 0, Source: "remote-b", Spec: index.RemoteSpec{URL: srv.URL}}
	go fw.Run(t.Context(), q)

	require.Equal(t, mergequeue.Error("remote-b", "not json"), q.Pop())
}

func TestRemoteFolderInjectsQueryParams(t *testing.T) {
	var gotQuery url.Values
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"total_rows":0,"rows":[]}`))
	}))
	defer srv.Close()

	var q = mergequeue.New(1, nil)
	var fw = &RemoteFolder{
		ProducerID:  0,
		Source:      "remote-b",
		Spec:        index.RemoteSpec{URL: srv.URL},
		QueryParams: url.Values{"stale": []string{"ok"}},
	}
	go fw.Run(t.Context(), q)

	require.Equal(t, mergequeue.RowCount(0), q.Pop())
	q.Done(0)
	require.Equal(t, mergequeue.KindClosed, q.Pop().Kind)
	require.Equal(t, "ok", gotQuery.Get("stale"))
}
