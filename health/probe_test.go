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

package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoctor struct {
	name  string
	state State
}

func (d *fakeDoctor) Name() string    { return d.name }
func (d *fakeDoctor) Diagnose() State { return d.state }

func TestStateString(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "sick", Sick.String())
	assert.Equal(t, "dead", Dead.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestDiagnoseReturnsWorstAcrossDoctors(t *testing.T) {
	p := New(Options{}, &fakeDoctor{name: "a", state: Healthy}, &fakeDoctor{name: "b", state: Sick})
	assert.Equal(t, Sick, p.Diagnose())
}

func TestDiagnoseStopsEarlyOnDead(t *testing.T) {
	var secondCalled bool
	second := &fakeDoctor{name: "b", state: Healthy}
	p := New(Options{}, &fakeDoctor{name: "a", state: Dead}, &recordingDoctor{fakeDoctor: second, onDiagnose: func() { secondCalled = true }})
	assert.Equal(t, Dead, p.Diagnose())
	assert.False(t, secondCalled, "a doctor reporting Dead should short-circuit the remaining doctors")
}

func TestDiagnoseWithNoDoctorsIsHealthy(t *testing.T) {
	p := New(Options{})
	assert.Equal(t, Healthy, p.Diagnose())
}

func TestProbeStartsHealthyBeforeFirstTick(t *testing.T) {
	p := New(Options{Interval: time.Hour}, &fakeDoctor{name: "a", state: Dead})
	assert.Equal(t, Healthy, p.State())
}

func TestProbePicksUpDiagnosisOnTick(t *testing.T) {
	d := &fakeDoctor{name: "a", state: Sick}
	p := New(Options{Interval: 10 * time.Millisecond}, d)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool { return p.State() == Sick }, time.Second, 5*time.Millisecond)
}

func TestProbeStopEndsPolling(t *testing.T) {
	d := &fakeDoctor{name: "a", state: Healthy}
	p := New(Options{Interval: 5 * time.Millisecond}, d)
	p.Start()
	require.Eventually(t, func() bool { return p.State() == Healthy }, time.Second, 5*time.Millisecond)

	p.Stop()
	d.state = Dead
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Healthy, p.State(), "no further polling should happen after Stop")
}

// recordingDoctor wraps a Doctor and calls onDiagnose before delegating,
// used to assert a Probe's early-exit-on-Dead short-circuit.
type recordingDoctor struct {
	*fakeDoctor
	onDiagnose func()
}

func (d *recordingDoctor) Diagnose() State {
	if d.onDiagnose != nil {
		d.onDiagnose()
	}
	return d.fakeDoctor.Diagnose()
}
