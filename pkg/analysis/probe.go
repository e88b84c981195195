package analysis

import "math"

// Probe summarises a burst of latency probes.
type Probe struct {
	// MeanPing is the mean round-trip time of the replies, in ms.
	MeanPing float64 `json:"mean_ping"`

	// Jitter is the mean absolute deviation of the RTTs from MeanPing, in ms.
	Jitter float64 `json:"jitter"`

	// PacketLoss is the share of probes without a reply, 0–100.
	PacketLoss float64 `json:"packet_loss"`

	Sent    int `json:"sent"`
	Replies int `json:"replies"`
}

// ProbeStats builds a Probe from the RTTs (ms) of the probes that were
// answered, out of sent probes in total. With no replies the loss is 100%
// and jitter 0.
func ProbeStats(rtts []float64, sent int) Probe {
	if sent < len(rtts) {
		sent = len(rtts)
	}
	p := Probe{Sent: sent, Replies: len(rtts)}
	if sent == 0 {
		return p
	}
	p.PacketLoss = round2(float64(sent-len(rtts)) / float64(sent) * 100)
	if len(rtts) == 0 {
		return p
	}

	m := mean(rtts)
	var dev float64
	for _, r := range rtts {
		dev += math.Abs(r - m)
	}
	p.MeanPing = round2(m)
	p.Jitter = round2(dev / float64(len(rtts)))
	return p
}
