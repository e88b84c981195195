package analysis

import (
	"math"
	"strconv"

	"github.com/speedscope/speedscope/pkg/types"
)

// DefaultTrendWindow is the moving-average window used by the dashboard.
const DefaultTrendWindow = 3

// DefaultRecent is the number of records shown in the recent-tests table.
const DefaultRecent = 5

// ISPMetrics summarises a series of records.
type ISPMetrics struct {
	AvgDownload float64 `json:"avg_download"`
	AvgUpload   float64 `json:"avg_upload"`
	AvgPing     float64 `json:"avg_ping"`

	// Consistency is 100 - stddev(download)/mean(download)*100.
	// Nil when fewer than two records exist or mean download is zero.
	Consistency *float64 `json:"consistency"`

	Count int `json:"count"`
}

// Summarize computes ISPMetrics over recs. An empty series yields zero averages.
func Summarize(recs []types.Record) ISPMetrics {
	out := ISPMetrics{Count: len(recs)}
	if len(recs) == 0 {
		return out
	}

	downloads := make([]float64, len(recs))
	var up, ping float64
	for i, r := range recs {
		downloads[i] = r.Download
		up += r.Upload
		ping += r.Ping
	}
	n := float64(len(recs))
	meanDL := mean(downloads)

	out.AvgDownload = round2(meanDL)
	out.AvgUpload = round2(up / n)
	out.AvgPing = round2(ping / n)

	if len(recs) >= 2 && meanDL != 0 {
		c := round2(100 - sampleStdDev(downloads, meanDL)/meanDL*100)
		out.Consistency = &c
	}
	return out
}

// MovingAverage returns the trailing mean of values over window samples.
// The first window-1 entries are nil. A window below 1 is treated as 1.
func MovingAverage(values []float64, window int) []*float64 {
	if window < 1 {
		window = 1
	}
	out := make([]*float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			avg := round2(sum / float64(window))
			out[i] = &avg
		}
	}
	return out
}

// TrendPoint is one entry of the speed trend series.
type TrendPoint struct {
	Timestamp  types.Timestamp `json:"timestamp"`
	Download   float64         `json:"download"`
	Upload     float64         `json:"upload"`
	DownloadMA *float64        `json:"download_ma"`
	UploadMA   *float64        `json:"upload_ma"`
}

// Trends pairs every record with the moving averages of download and upload.
func Trends(recs []types.Record, window int) []TrendPoint {
	dl := make([]float64, len(recs))
	ul := make([]float64, len(recs))
	for i, r := range recs {
		dl[i] = r.Download
		ul[i] = r.Upload
	}
	dlMA := MovingAverage(dl, window)
	ulMA := MovingAverage(ul, window)

	out := make([]TrendPoint, len(recs))
	for i, r := range recs {
		out[i] = TrendPoint{
			Timestamp:  r.Timestamp,
			Download:   r.Download,
			Upload:     r.Upload,
			DownloadMA: dlMA[i],
			UploadMA:   ulMA[i],
		}
	}
	return out
}

// Recent returns the newest n records of recs, oldest first. The result is a
// copy.
func Recent(recs []types.Record, n int) []types.Record {
	if n <= 0 {
		return []types.Record{}
	}
	start := len(recs) - n
	if start < 0 {
		start = 0
	}
	out := make([]types.Record, len(recs)-start)
	copy(out, recs[start:])
	return out
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var s float64
	for _, v := range vs {
		s += v
	}
	return s / float64(len(vs))
}

// sampleStdDev is the n-1 standard deviation of vs around m.
func sampleStdDev(vs []float64, m float64) float64 {
	if len(vs) < 2 {
		return 0
	}
	var ss float64
	for _, v := range vs {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vs)-1))
}

// round2 rounds like strconv's 'f' formatting at two digits.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	return r
}
