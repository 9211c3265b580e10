package client

import "github.com/estuary/viewmerge/go/recvworker"

// runCoordinator is the single goroutine owning all of Client's mutable
// state. It never touches the socket directly for reads (that's RW's
// job); frame writes happen inline inside command closures, which run on
// this same goroutine, so there is no cross-goroutine write contention
// (spec.md §5 "Shared-resource policy").
func runCoordinator(c *Client, responses <-chan recvworker.StreamResponse, events <-chan recvworker.StreamEvent, rwErr <-chan error) {
	var st = newState(c.cfg)
	for {
		select {
		case cmd := <-c.cmds:
			cmd.run(st)
		case resp := <-responses:
			st.handleResponse(resp)
		case ev := <-events:
			st.handleEvent(ev)
		case err := <-rwErr:
			c.logger().WithField("err", err).Warn("receive worker died, terminating client")
			st.terminateAll(err)
			return
		case <-c.closed:
			return
		}
	}
}
