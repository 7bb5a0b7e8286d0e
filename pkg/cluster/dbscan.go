package cluster

import (
	"github.com/newswire-labs/clusterstream/pkg/kernel"
)

// Noise is the label assigned to points with no dense neighborhood.
const Noise = -1

const unclassified = -2

// DBSCAN runs density-based clustering over a precomputed distance
// matrix. minSamples counts the point itself, matching the usual
// library convention; with minSamples=2 every point that has at least
// one stored neighbor within eps becomes a core point, and clusters
// are the connected components of the eps-neighborhood graph.
//
// Labels are numbered in the scan order of their seeds. With
// minSamples <= 2 no earlier point can join a later group, so the
// lowest index in a label group is its seed; with larger minSamples an
// earlier noise point can join a later group as a border point.
// Absent matrix entries are treated as infinite distance.
func DBSCAN(m kernel.DistanceMatrix, eps float64, minSamples int) []int {
	n := m.Size()
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unclassified
	}

	e := float32(eps)
	next := 0
	var queue []int

	for i := 0; i < n; i++ {
		if labels[i] != unclassified {
			continue
		}

		seed := neighbors(m, i, e)
		if len(seed)+1 < minSamples {
			labels[i] = Noise
			continue
		}

		labels[i] = next
		queue = append(queue[:0], seed...)

		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == Noise {
				// Border point reached from a core point.
				labels[j] = next
			}
			if labels[j] != unclassified {
				continue
			}
			labels[j] = next

			nb := neighbors(m, j, e)
			if len(nb)+1 >= minSamples {
				queue = append(queue, nb...)
			}
		}
		next++
	}

	return labels
}

// neighbors collects the stored neighbors of row i within eps.
func neighbors(m kernel.DistanceMatrix, i int, eps float32) []int {
	var out []int
	m.EachWithin(i, eps, func(j int) {
		out = append(out, j)
	})
	return out
}
