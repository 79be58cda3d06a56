// Copyright (c) 2024 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package lifecycle

import (
	"context"
	"errors"
	syncatomic "sync/atomic"

	"go.uber.org/atomic"

	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
)

// State represents the states an Invoker (Refer or Exporter) moves through
// during its life, matching the NEW/OPENING/OPENED/CLOSING/CLOSED vocabulary
// used throughout the invoker package.
type State int

const (
	// New indicates the Invoker hasn't been operated on yet.
	New State = iota

	// Opening indicates that Open has been called but hasn't finished yet.
	Opening

	// Opened indicates that Open has finished and the Invoker is available.
	Opened

	// Closing indicates that Close has been called but hasn't finished yet.
	Closing

	// Closed indicates that the Invoker has finished closing.
	Closed

	// Errored indicates that the Invoker experienced an error while opening
	// or closing and its true state can no longer be determined.
	Errored
)

var stateToName = map[State]string{
	New:     "new",
	Opening: "opening",
	Opened:  "opened",
	Closing: "closing",
	Closed:  "closed",
	Errored: "errored",
}

func getStateName(s State) string {
	if name, ok := stateToName[s]; ok {
		return name
	}
	return "unknown"
}

// Once is a helper for implementing objects that advance monotonically
// through the New -> Opening -> Opened -> Closing -> Closed states, with
// at-most-once Open and Close implementations, in a thread-safe manner.
type Once struct {
	// openCh closes once the state is Opened or beyond.
	openCh chan struct{}
	// closingCh closes once the state is Closing or beyond.
	closingCh chan struct{}
	// closeCh closes once the state is Closed or Errored.
	closeCh chan struct{}
	// err is the error, if any, that Open() or Close() returned and all
	// subsequent Open() or Close() calls will return. The right to set err
	// is conferred to whichever goroutine is opening or closing, until it
	// has finished, after which err becomes immutable.
	err syncatomic.Value
	// state is an atomic State representing the object's current state.
	state atomic.Int32
}

// NewOnce returns a lifecycle controller.
//
//  0. The observable state must only go forward from New to Closed.
//  1. Open() must block until the state is >= Opened.
//  2. Close() must block until the state is >= Closed.
//  3. Close() must pre-empt Open() if it occurs first.
//  4. Open() and Close() may be backed by a do-actual-work function, and
//     that function must be called at-most-once.
func NewOnce() *Once {
	return &Once{
		openCh:    make(chan struct{}),
		closingCh: make(chan struct{}),
		closeCh:   make(chan struct{}),
	}
}

// Open will run the `f` function once and return the error.
// If Open is called multiple times it will return the error
// from the first time it was called.
func (o *Once) Open(f func() error) error {
	if o.state.CAS(int32(New), int32(Opening)) {
		var err error
		if f != nil {
			err = f()
		}

		if err != nil {
			o.setError(err)
			o.state.Store(int32(Errored))
			close(o.closingCh)
			close(o.closeCh)
		} else {
			o.state.Store(int32(Opened))
		}
		close(o.openCh)

		return err
	}

	<-o.openCh
	return o.loadError()
}

// WaitUntilOpened blocks until the instance enters the Opened state, or the
// context times out.
func (o *Once) WaitUntilOpened(ctx context.Context) error {
	state := State(o.state.Load())
	if state == Opened {
		return nil
	}
	if state > Opened {
		return joyrpcerrors.InitError("could not wait for invoker to open: current state is %q", getStateName(state))
	}

	if _, ok := ctx.Deadline(); !ok {
		return joyrpcerrors.ConfigError("could not wait for invoker to open: deadline required on request context")
	}

	select {
	case <-o.openCh:
		state := State(o.state.Load())
		if state == Opened {
			return nil
		}
		return joyrpcerrors.InitError("invoker did not enter opened state, current state is %q", getStateName(state))
	case <-ctx.Done():
		return joyrpcerrors.TimeoutError("context finished while waiting for invoker to open: %s", ctx.Err().Error())
	}
}

// Close will run the `f` function once and return the error.
// If Close is called multiple times it will return the error
// from the first time it was called.
func (o *Once) Close(f func() error) error {
	if o.state.CAS(int32(New), int32(Closed)) {
		close(o.openCh)
		close(o.closingCh)
		close(o.closeCh)
		return nil
	}

	<-o.openCh

	if o.state.CAS(int32(Opened), int32(Closing)) {
		close(o.closingCh)

		var err error
		if f != nil {
			err = f()
		}

		if err != nil {
			o.setError(err)
			o.state.Store(int32(Errored))
		} else {
			o.state.Store(int32(Closed))
		}
		close(o.closeCh)
		return err
	}

	<-o.closeCh
	return o.loadError()
}

// Opened returns a channel that closes when the lifecycle opens.
func (o *Once) Opened() <-chan struct{} {
	return o.openCh
}

// Closing returns a channel that closes when the lifecycle starts closing.
func (o *Once) Closing() <-chan struct{} {
	return o.closingCh
}

// ClosedCh returns a channel that closes when the lifecycle finishes closing.
func (o *Once) ClosedCh() <-chan struct{} {
	return o.closeCh
}

func (o *Once) setError(err error) {
	o.err.Store(err)
}

func (o *Once) loadError() error {
	errVal := o.err.Load()
	if errVal == nil {
		return nil
	}

	if err, ok := errVal.(error); ok {
		return err
	}

	return errors.New("lifecycle err was not `error` type")
}

// State returns the state of the object within its life cycle, from New to
// Closed. The function only guarantees that the lifecycle has at least
// passed through the returned state and may have progressed further in the
// intervening time.
func (o *Once) State() State {
	return State(o.state.Load())
}

// IsOpened reports whether the current state of the lifecycle is Opened.
func (o *Once) IsOpened() bool {
	return o.State() == Opened
}

// IsClosing reports whether Close has been called, whether or not it has
// finished: Refer.Call and Exporter.dispatch use this to stop admitting new
// work the moment a shutdown.Coordinator-driven Close begins, rather than
// only once Close has fully drained the Cluster or stopped the Transport.
func (o *Once) IsClosing() bool {
	return o.State() >= Closing
}
