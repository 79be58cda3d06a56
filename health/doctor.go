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
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/transport/channel"
)

// defaultSickRatio and defaultDeadRatio are the fraction of a doctor's
// population that must be unhealthy before it escalates its diagnosis,
// used when a doctor's own thresholds are left at zero.
const (
	defaultSickRatio = 0.25
	defaultDeadRatio = 0.75
)

// ChannelDoctor diagnoses a set of Channels by the fraction currently
// StatusUnavailable: past SickThreshold it reports Sick, past
// DeadThreshold it reports Dead. An empty or nil Channels snapshot is
// reported Healthy — there is nothing to be sick about.
type ChannelDoctor struct {
	// DoctorName identifies this doctor in logs; defaults to "channel".
	DoctorName string

	// Channels returns the current snapshot of Channels to diagnose.
	// Required.
	Channels func() []*channel.Channel

	// SickThreshold and DeadThreshold are fractions in [0,1]. Zero means
	// the package default (0.25 and 0.75, respectively).
	SickThreshold, DeadThreshold float64
}

// Name implements Doctor.
func (d *ChannelDoctor) Name() string {
	if d.DoctorName != "" {
		return d.DoctorName
	}
	return "channel"
}

// Diagnose implements Doctor.
func (d *ChannelDoctor) Diagnose() State {
	channels := d.Channels()
	if len(channels) == 0 {
		return Healthy
	}

	var dead int
	for _, ch := range channels {
		if ch.Status() == channel.StatusUnavailable {
			dead++
		}
	}
	return ratioToState(float64(dead)/float64(len(channels)), d.SickThreshold, d.DeadThreshold)
}

// ClusterDoctor diagnoses a Cluster by the fraction of its tracked Nodes
// that are NOT currently Eligible: past SickThreshold it reports Sick,
// past DeadThreshold it reports Dead. A Cluster tracking no Nodes yet is
// reported Healthy, matching ChannelDoctor's empty-population rule.
type ClusterDoctor struct {
	// DoctorName identifies this doctor in logs; defaults to "cluster".
	DoctorName string

	// Cluster is the Cluster to diagnose. Required.
	Cluster *cluster.Cluster

	// SickThreshold and DeadThreshold are fractions in [0,1]. Zero means
	// the package default (0.25 and 0.75, respectively).
	SickThreshold, DeadThreshold float64
}

// Name implements Doctor.
func (d *ClusterDoctor) Name() string {
	if d.DoctorName != "" {
		return d.DoctorName
	}
	return "cluster"
}

// Diagnose implements Doctor.
func (d *ClusterDoctor) Diagnose() State {
	nodes := d.Cluster.Nodes()
	if len(nodes) == 0 {
		return Healthy
	}

	ineligible := len(nodes) - len(d.Cluster.Eligible())
	return ratioToState(float64(ineligible)/float64(len(nodes)), d.SickThreshold, d.DeadThreshold)
}

func ratioToState(ratio, sickThreshold, deadThreshold float64) State {
	if sickThreshold <= 0 {
		sickThreshold = defaultSickRatio
	}
	if deadThreshold <= 0 {
		deadThreshold = defaultDeadRatio
	}
	switch {
	case ratio >= deadThreshold:
		return Dead
	case ratio >= sickThreshold:
		return Sick
	default:
		return Healthy
	}
}
