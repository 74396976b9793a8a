package output

// Inflight tracks the single asynchronous send a sink may still be working
// on. It is not safe for concurrent use; sinks are driven from one goroutine
// at a time (the sender, then the disposal goroutine after the sender exits).
type Inflight struct {
	done chan struct{}
}

// Wait blocks until the previous send, if any, has finished.
func (i *Inflight) Wait() {
	if i.done != nil {
		<-i.done
		i.done = nil
	}
}

// Begin waits for the previous send and marks a new one in flight. The
// returned func must be called exactly once when the sink is done with the
// buffer.
func (i *Inflight) Begin() (finish func()) {
	i.Wait()
	done := make(chan struct{})
	i.done = done
	return func() { close(done) }
}
