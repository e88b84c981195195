package analysis

import "testing"

func TestProbeStats(t *testing.T) {
	tests := []struct {
		name string
		rtts []float64
		sent int
		want Probe
	}{
		{
			name: "all replied",
			// mean 20, deviations 10,0,10,0 → 5
			rtts: []float64{10, 20, 30, 20},
			sent: 4,
			want: Probe{MeanPing: 20, Jitter: 5, PacketLoss: 0, Sent: 4, Replies: 4},
		},
		{
			name: "one of ten lost",
			rtts: []float64{10, 10, 10, 10, 10, 10, 10, 10, 10},
			sent: 10,
			want: Probe{MeanPing: 10, Jitter: 0, PacketLoss: 10, Sent: 10, Replies: 9},
		},
		{
			name: "rounded",
			rtts: []float64{10, 11, 11},
			sent: 3,
			// mean 10.667, dev (0.667+0.333+0.333)/3 = 0.444
			want: Probe{MeanPing: 10.67, Jitter: 0.44, PacketLoss: 0, Sent: 3, Replies: 3},
		},
		{
			name: "nothing replied",
			rtts: nil,
			sent: 10,
			want: Probe{PacketLoss: 100, Sent: 10},
		},
		{
			name: "nothing sent",
			want: Probe{},
		},
		{
			name: "sent below replies is corrected",
			rtts: []float64{5, 5},
			sent: 1,
			want: Probe{MeanPing: 5, Sent: 2, Replies: 2},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ProbeStats(tc.rtts, tc.sent); got != tc.want {
				t.Errorf("ProbeStats = %+v, want %+v", got, tc.want)
			}
		})
	}
}
