package service

import (
	"math"
	"sort"

	"github.com/viterin/vek/vek32"
)

// Similarity methods.
const (
	MethodCorrelation  = "correlation"
	MethodCosine       = "cosine"
	MethodEuclidean    = "euclidean"
	MethodManhattan    = "manhattan"
	MethodLogEuclidean = "log-euclidean"
)

const (
	similarityEpsilon = 1e-9
	logPseudocount    = 1e-3
)

func validMethod(method string) bool {
	switch method {
	case MethodCorrelation, MethodCosine, MethodEuclidean, MethodManhattan, MethodLogEuclidean:
		return true
	}
	return false
}

// usesFraction reports whether a method compares fractions rather than
// averages.
func usesFraction(method string) bool {
	return method == MethodCorrelation || method == MethodCosine
}

// prepareVectors transforms vectors in place for a method: centering for
// correlation, a log transform for log-euclidean.
func prepareVectors(method string, vectors [][]float32) {
	switch method {
	case MethodCorrelation:
		for _, v := range vectors {
			if len(v) > 0 {
				vek32.SubNumber_Inplace(v, vek32.Mean(v))
			}
		}
	case MethodLogEuclidean:
		for _, v := range vectors {
			for i, x := range v {
				v[i] = float32(math.Log(float64(x) + logPseudocount))
			}
		}
	}
}

// distance between two prepared vectors.
func distance(method string, x, y []float32) float32 {
	n := float32(len(x))
	switch method {
	case MethodCorrelation, MethodCosine:
		den := math.Sqrt(float64(vek32.Dot(x, x)) * float64(vek32.Dot(y, y)))
		return 1 - vek32.Dot(x, y)/float32(den+similarityEpsilon)
	case MethodManhattan:
		return vek32.ManhattanDistance(x, y) / n
	default:
		return vek32.Distance(x, y) / float32(math.Sqrt(float64(n)))
	}
}

// nearest returns up to number indices of vectors closest to vectors[focal],
// excluding focal, with their distances. Equal distances keep index order.
func nearest(method string, vectors [][]float32, focal, number int) ([]int, []float32) {
	dist := make([]float32, len(vectors))
	idx := make([]int, 0, len(vectors))
	for i, v := range vectors {
		dist[i] = distance(method, vectors[focal], v)
		if i != focal {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })
	if number < 0 {
		number = 0
	}
	if len(idx) > number {
		idx = idx[:number]
	}
	out := make([]float32, len(idx))
	for k, i := range idx {
		out[k] = dist[i]
	}
	return idx, out
}
