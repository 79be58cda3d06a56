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

package roundrobin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/joyurl"
	"github.com/lwbtt0915/joyrpc/loadbalance"
)

func testNode(t *testing.T, host string, port int) *cluster.Node {
	t.Helper()
	u := joyurl.NewBuilder("tcp", host, port).Interface("svc").Build()
	return cluster.NewNode(u)
}

func TestPickRotatesThroughAllNodes(t *testing.T) {
	n1 := testNode(t, "10.0.0.1", 80)
	n2 := testNode(t, "10.0.0.2", 80)
	n3 := testNode(t, "10.0.0.3", 80)
	eligible := []*cluster.Node{n3, n1, n2}

	lb := New()
	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		n, err := lb.Pick(context.Background(), eligible, nil)
		require.NoError(t, err)
		seen[n.URL().Identifier()]++
	}

	assert.Equal(t, 2, seen[n1.URL().Identifier()])
	assert.Equal(t, 2, seen[n2.URL().Identifier()])
	assert.Equal(t, 2, seen[n3.URL().Identifier()])
}

func TestPickIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	n1 := testNode(t, "10.0.0.1", 80)
	n2 := testNode(t, "10.0.0.2", 80)

	lb := New()
	first, err := lb.Pick(context.Background(), []*cluster.Node{n2, n1}, nil)
	require.NoError(t, err)
	second, err := lb.Pick(context.Background(), []*cluster.Node{n1, n2}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.URL().Identifier(), second.URL().Identifier())
}

func TestPickErrorsOnEmptyEligibleSet(t *testing.T) {
	lb := New()
	_, err := lb.Pick(context.Background(), nil, nil)
	assert.ErrorIs(t, err, loadbalance.ErrNoEligibleNode)
}
