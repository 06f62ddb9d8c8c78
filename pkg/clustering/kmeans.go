// Package clustering seeds appearance models by k-means clustering of RGB samples.
package clustering

import (
	"fmt"
	"math/rand/v2"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"gonum.org/v1/gonum/spatial/r3"
)

// Seeding selects how initial centers are chosen
type Seeding string

const (
	// PlusPlus is k-means++ seeding (D^2 weighted sampling)
	PlusPlus Seeding = "kmeans++"

	// Random delegates to kmeans.Partition, which seeds uniformly at random
	// and iterates until assignments settle
	Random Seeding = "random"
)

// ParseSeeding converts a config name into a Seeding. The empty string
// selects PlusPlus.
func ParseSeeding(name string) (Seeding, error) {
	switch Seeding(name) {
	case "", PlusPlus:
		return PlusPlus, nil
	case Random:
		return Random, nil
	}
	return "", fmt.Errorf("unknown seeding %q, want %q or %q", name, PlusPlus, Random)
}

// Options controls a clustering run
type Options struct {
	// K is the number of clusters
	K int

	// Iterations is the fixed number of Lloyd iterations for PlusPlus seeding
	Iterations int

	// Seeding picks the initialization strategy
	Seeding Seeding

	// Seed makes PlusPlus runs reproducible
	Seed uint64
}

// DefaultOptions matches the model initialization used by the segmenter:
// five clusters, k-means++ seeding, ten iterations.
func DefaultOptions() Options {
	return Options{K: 5, Iterations: 10, Seeding: PlusPlus, Seed: 1}
}

// Cluster assigns every sample to one of opts.K clusters and returns the
// label per sample. Colors are scaled to [0,1] before clustering.
func Cluster(samples []r3.Vec, opts Options) ([]int, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to cluster")
	}
	if opts.K <= 0 {
		return nil, fmt.Errorf("k must be greater than 0, got %d", opts.K)
	}

	dataset := make(clusters.Observations, len(samples))
	for i, s := range samples {
		dataset[i] = clusters.Coordinates{s.X / 255, s.Y / 255, s.Z / 255}
	}

	switch opts.Seeding {
	case Random:
		if len(dataset) >= opts.K {
			return partition(dataset, opts.K)
		}
		// kmeans.Partition rejects datasets smaller than k
		fallthrough
	case PlusPlus, "":
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
		cc := seedPlusPlus(dataset, opts.K, rng)
		return lloyd(dataset, cc, opts.Iterations), nil
	default:
		return nil, fmt.Errorf("unknown seeding %q", opts.Seeding)
	}
}

func partition(dataset clusters.Observations, k int) ([]int, error) {
	km := kmeans.New()
	cc, err := km.Partition(dataset, k)
	if err != nil {
		return nil, fmt.Errorf("kmeans partition: %w", err)
	}
	labels := make([]int, len(dataset))
	for i, o := range dataset {
		labels[i] = cc.Nearest(o)
	}
	return labels, nil
}

// seedPlusPlus picks the first center uniformly and every following one with
// probability proportional to its squared distance from the nearest chosen center.
func seedPlusPlus(dataset clusters.Observations, k int, rng *rand.Rand) clusters.Clusters {
	cc := make(clusters.Clusters, 0, k)
	first := dataset[rng.IntN(len(dataset))].Coordinates()
	cc = append(cc, clusters.Cluster{Center: append(clusters.Coordinates(nil), first...)})

	dist := make([]float64, len(dataset))
	for i, o := range dataset {
		dist[i] = o.Distance(first)
	}

	for len(cc) < k {
		var sum float64
		for _, d := range dist {
			sum += d
		}

		pick := 0
		if sum > 0 {
			target := rng.Float64() * sum
			for pick = 0; pick < len(dist)-1; pick++ {
				target -= dist[pick]
				if target <= 0 {
					break
				}
			}
		} else {
			// every sample coincides with a center already
			pick = rng.IntN(len(dataset))
		}

		center := append(clusters.Coordinates(nil), dataset[pick].Coordinates()...)
		cc = append(cc, clusters.Cluster{Center: center})
		for i, o := range dataset {
			if d := o.Distance(center); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return cc
}

// lloyd runs a fixed number of assign/recenter rounds. Empty clusters keep
// their previous center.
func lloyd(dataset clusters.Observations, cc clusters.Clusters, iterations int) []int {
	labels := make([]int, len(dataset))
	if iterations < 1 {
		iterations = 1
	}
	for it := 0; it < iterations; it++ {
		cc.Reset()
		for i, o := range dataset {
			ci := cc.Nearest(o)
			cc[ci].Append(o)
			labels[i] = ci
		}
		cc.Recenter()
	}
	return labels
}
