package health

import "math"

// Weights is the contribution of each normalised metric to the score.
// A usable weight set sums to 1.
type Weights struct {
	Download   float64 `json:"download" yaml:"download"`
	Upload     float64 `json:"upload" yaml:"upload"`
	Ping       float64 `json:"ping" yaml:"ping"`
	Jitter     float64 `json:"jitter" yaml:"jitter"`
	PacketLoss float64 `json:"packet_loss" yaml:"packet_loss"`
}

// DefaultWeights is the standard weight set. It sums to 1.
var DefaultWeights = Weights{
	Download:   0.30,
	Upload:     0.20,
	Ping:       0.15,
	Jitter:     0.15,
	PacketLoss: 0.20,
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Download + w.Upload + w.Ping + w.Jitter + w.PacketLoss
}

// IsZero reports whether no weight is set.
func (w Weights) IsZero() bool {
	return w == Weights{}
}

// Normalize returns w scaled so the weights sum to 1.
// A set containing a negative weight, or summing to zero, is replaced by
// DefaultWeights.
func (w Weights) Normalize() Weights {
	if w.Download < 0 || w.Upload < 0 || w.Ping < 0 || w.Jitter < 0 || w.PacketLoss < 0 {
		return DefaultWeights
	}
	sum := w.Sum()
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return DefaultWeights
	}
	if sum == 1 {
		return w
	}
	return Weights{
		Download:   w.Download / sum,
		Upload:     w.Upload / sum,
		Ping:       w.Ping / sum,
		Jitter:     w.Jitter / sum,
		PacketLoss: w.PacketLoss / sum,
	}
}
