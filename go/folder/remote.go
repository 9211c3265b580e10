package folder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	perrors "github.com/pkg/errors"

	"github.com/estuary/viewmerge/go/index"
	"github.com/estuary/viewmerge/go/mergequeue"
	"github.com/estuary/viewmerge/go/ops"
)

// partialDownloadWindow bounds how much of a chunked response body may be
// buffered ahead of the JSON decoder at once (spec.md §6 "partial-download
// window (3 chunks)").
const partialDownloadWindow = 3 * 4096

// RemoteFolder issues a POST to a remote merge endpoint and streams its
// response into a mergequeue.Queue.
type RemoteFolder struct {
	ProducerID  int
	Source      string // identifies the backing index in Error items; the coordinator sets it to the spec's URL.
	Client      *http.Client
	Spec        index.RemoteSpec
	QueryParams url.Values
	Timeout     time.Duration
}

// Run issues the request, streams or drains the response, and always
// signals Done and drains the HTTP body before returning, per spec.md
// §4.3's teardown invariant.
func (f *RemoteFolder) Run(ctx context.Context, q *mergequeue.Queue) {
	defer q.Done(f.ProducerID)

	var reqID = uuid.NewString()
	var log = ops.WithFields(ops.Fields{"source": f.Source, "req_id": reqID})

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	var qs = f.QueryParams.Encode()
	var target = f.Spec.URL
	if qs != "" {
		target += "?" + qs
	}

	var body, err = json.Marshal(f.Spec.EJSON)
	if err != nil {
		log.WithField("err", err).Warn("failed to encode ejson body")
		_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, perrors.Wrap(err, "encoding ejson body").Error()))
		return
	}

	var httpReq *http.Request
	httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, err.Error()))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", reqID)

	var resp *http.Response
	resp, err = f.client().Do(httpReq)
	if err != nil {
		log.WithField("err", err).Warn("remote folder worker request failed")
		_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, err.Error()))
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		f.handleErrorResponse(q, resp)
		return
	}
	f.streamRows(ctx, q, resp.Body)
}

func (f *RemoteFolder) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// handleErrorResponse drains a non-200 body as a single JSON object and
// translates {error, reason} per spec.md §4.3's table.
func (f *RemoteFolder) handleErrorResponse(q *mergequeue.Queue, resp *http.Response) {
	var raw, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, err.Error()))
		return
	}

	var body struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if jsonErr := json.Unmarshal(raw, &body); jsonErr != nil {
		_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, string(raw)))
		return
	}

	switch body.Error {
	case "not_found":
		if body.Reason != "missing" && body.Reason != "deleted" {
			_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, body.Reason))
		} else {
			_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, "not_found"))
		}
	case "error":
		switch body.Reason {
		case "revision_mismatch":
			_ = q.Push(f.ProducerID, mergequeue.RevisionMismatch)
		case "set_view_outdated":
			_ = q.Push(f.ProducerID, mergequeue.SetViewOutdated)
		default:
			_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, body.Reason))
		}
	default:
		_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, fmt.Sprintf("%s: %s", body.Error, body.Reason)))
	}
}

// streamRows incrementally parses the chunked JSON response body,
// pushing each recognized field as soon as it is decoded, bounding
// memory with a small buffered reader (the "partial-download window").
func (f *RemoteFolder) streamRows(ctx context.Context, q *mergequeue.Queue, body io.Reader) {
	var reader = bufio.NewReaderSize(body, partialDownloadWindow)
	var dec = json.NewDecoder(reader)

	if _, err := dec.Token(); err != nil { // opening '{'
		f.pushStreamErr(q, err)
		return
	}
	for dec.More() {
		var keyTok, err = dec.Token()
		if err != nil {
			f.pushStreamErr(q, err)
			return
		}
		var key, _ = keyTok.(string)

		switch key {
		case "total_rows":
			var n int
			if err := dec.Decode(&n); err != nil {
				f.pushStreamErr(q, err)
				return
			}
			if pushErr := q.Push(f.ProducerID, mergequeue.RowCount(n)); pushErr != nil {
				return
			}
		case "rows":
			if err := f.streamArray(q, dec, func(raw json.RawMessage) mergequeue.Item {
				return mergequeue.Row(raw)
			}); err != nil {
				return
			}
		case "errors":
			if err := f.streamArray(q, dec, func(raw json.RawMessage) mergequeue.Item {
				var e struct {
					From   string `json:"from"`
					Reason string `json:"reason"`
				}
				_ = json.Unmarshal(raw, &e)
				return mergequeue.Error(e.From, e.Reason)
			}); err != nil {
				return
			}
		case "debug_info":
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				f.pushStreamErr(q, err)
				return
			}
			if pushErr := q.Push(f.ProducerID, mergequeue.DebugInfo(f.Source, raw)); pushErr != nil {
				return
			}
		default:
			var discard json.RawMessage
			_ = dec.Decode(&discard)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// streamArray decodes each element of the current JSON array value and
// converts it to a mergequeue.Item via toItem, pushing as it goes.
func (f *RemoteFolder) streamArray(q *mergequeue.Queue, dec *json.Decoder, toItem func(json.RawMessage) mergequeue.Item) error {
	var tok, err = dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("expected array, got %v", tok)
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := q.Push(f.ProducerID, toItem(raw)); err != nil {
			return err
		}
	}
	_, err = dec.Token() // closing ']'
	return err
}

func (f *RemoteFolder) pushStreamErr(q *mergequeue.Queue, err error) {
	if errors.Is(err, mergequeue.ErrQueueShutdown) || errors.Is(err, context.Canceled) {
		return
	}
	_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, err.Error()))
}
