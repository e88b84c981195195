// Package analysis derives dashboard figures from a series of speed-test
// records.
//
//   - Summarize: average download/upload/ping and connection consistency
//     (100 minus the coefficient of variation of download speed)
//   - MovingAverage / Trends: trailing rolling means for the trend chart
//   - Recent: the newest n records, oldest first
//   - ProbeStats: mean RTT, jitter and packet loss from raw probe samples
//
// All functions are pure; inputs are never modified. Figures are rounded to
// two decimals, as displayed.
package analysis
