package ml

import (
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
)

// KMeans clusters rows into K groups by Lloyd's algorithm with k-means++
// seeding under a fixed seed.
type KMeans struct {
	K       int   `json:"k"`
	MaxIter int   `json:"max_iter"`
	Seed    int64 `json:"seed"`

	Centroids [][]float64 `json:"centroids,omitempty"`
	Trained   bool        `json:"trained"`
}

// NewKMeans returns a clusterer for k groups with a fixed seed.
func NewKMeans(k int) *KMeans {
	return &KMeans{K: k, MaxIter: 100, Seed: 42}
}

// Fit computes centroids and returns the per-row cluster assignment.
func (k *KMeans) Fit(rows [][]float64) ([]int, error) {
	if len(rows) == 0 {
		return nil, eris.New("ml: kmeans fit on empty dataset")
	}
	if k.K < 1 {
		return nil, eris.Errorf("ml: kmeans k must be >= 1 (got %d)", k.K)
	}
	if k.K > len(rows) {
		return nil, eris.Errorf("ml: kmeans k=%d exceeds %d rows", k.K, len(rows))
	}

	rng := rand.New(rand.NewSource(k.Seed))
	k.Centroids = seedCentroids(rows, k.K, rng)

	assign := make([]int, len(rows))
	for iter := 0; iter < k.MaxIter; iter++ {
		changed := false
		for i, row := range rows {
			c := nearestCentroid(k.Centroids, row)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}

		counts := make([]int, k.K)
		sums := make([][]float64, k.K)
		for c := range sums {
			sums[c] = make([]float64, len(rows[0]))
		}
		for i, row := range rows {
			counts[assign[i]]++
			for j, v := range row {
				sums[assign[i]][j] += v
			}
		}
		for c := range k.Centroids {
			if counts[c] == 0 {
				// Reseed empty clusters from a random row.
				k.Centroids[c] = append([]float64(nil), rows[rng.Intn(len(rows))]...)
				continue
			}
			for j := range k.Centroids[c] {
				k.Centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}

		if !changed && iter > 0 {
			break
		}
	}

	k.Trained = true
	return assign, nil
}

// Predict assigns one feature vector to the nearest existing centroid.
func (k *KMeans) Predict(row []float64) (int, error) {
	if !k.Trained || len(k.Centroids) == 0 {
		return 0, eris.New("ml: kmeans not trained")
	}
	return nearestCentroid(k.Centroids, row), nil
}

// seedCentroids picks initial centroids with k-means++ weighting.
func seedCentroids(rows [][]float64, kk int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, kk)
	centroids = append(centroids, append([]float64(nil), rows[rng.Intn(len(rows))]...))

	dists := make([]float64, len(rows))
	for len(centroids) < kk {
		var total float64
		for i, row := range rows {
			d := math.Inf(1)
			for _, c := range centroids {
				if sq := sqDist(row, c); sq < d {
					d = sq
				}
			}
			dists[i] = d
			total += d
		}
		if total == 0 {
			centroids = append(centroids, append([]float64(nil), rows[rng.Intn(len(rows))]...))
			continue
		}
		target := rng.Float64() * total
		var cum float64
		pick := len(rows) - 1
		for i, d := range dists {
			cum += d
			if cum >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), rows[pick]...))
	}
	return centroids
}

func nearestCentroid(centroids [][]float64, row []float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(row, centroid); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
