// Package cluster implements seeded k-means partitioning for
// low-dimensional data.
package cluster

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// maxIter bounds the Lloyd iterations; assignment usually stabilizes
// long before this.
const maxIter = 200

// KMeans partitions points into k clusters and returns the cluster
// label of every point together with the final centroids. Centroids
// are seeded with k-means++ drawn from rng, so a fixed generator
// state gives a reproducible partition.
func KMeans(points [][]float64, k int, rng *rand.Rand) ([]int, [][]float64, error) {
	if k < 1 {
		return nil, nil, fmt.Errorf("kmeans: %d clusters", k)
	}
	if len(points) < k {
		return nil, nil, fmt.Errorf("kmeans: %d points for %d clusters", len(points), k)
	}
	dim := len(points[0])
	for _, p := range points {
		if len(p) != dim {
			return nil, nil, errors.New("kmeans: inconsistent dimensions")
		}
	}

	centroids := seed(points, k, rng)
	labels := make([]int, len(points))
	counts := make([]int, k)

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(centroids, p)
			if best != labels[i] || iter == 0 {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		for c := range centroids {
			counts[c] = 0
			for d := 0; d < dim; d++ {
				centroids[c][d] = 0
			}
		}
		for i, p := range points {
			counts[labels[i]]++
			floats.Add(centroids[labels[i]], p)
		}
		for c := range centroids {
			if counts[c] == 0 {
				// an emptied cluster restarts on the point farthest
				// from its centroid
				copy(centroids[c], points[farthest(centroids, points, labels)])
				continue
			}
			floats.Scale(1/float64(counts[c]), centroids[c])
		}
	}
	return labels, centroids, nil
}

// seed runs k-means++ initialization: the first centroid is a random
// point, each next one is drawn proportional to squared distance from
// the chosen set.
func seed(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := append([]float64(nil), points[rng.Intn(len(points))]...)
	centroids = append(centroids, first)

	d2 := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			d2[i] = distSq(centroids[nearest(centroids, p)], p)
			total += d2[i]
		}
		var next int
		if total == 0 {
			next = rng.Intn(len(points))
		} else {
			u := rng.Float64() * total
			for next = 0; next < len(points)-1; next++ {
				u -= d2[next]
				if u < 0 {
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), points[next]...))
	}
	return centroids
}

// nearest returns the index of the centroid closest to p, the lowest
// index on ties.
func nearest(centroids [][]float64, p []float64) int {
	best, bestD := 0, math.Inf(1)
	for c, cent := range centroids {
		if d := distSq(cent, p); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

// farthest returns the index of the point with the largest distance
// to its assigned centroid.
func farthest(centroids, points [][]float64, labels []int) int {
	best, bestD := 0, -1.0
	for i, p := range points {
		if d := distSq(centroids[labels[i]], p); d > bestD {
			best, bestD = i, d
		}
	}
	return best
}

func distSq(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
