// Package geo looks up the ISP and location of the agent's public address
// against an ipapi.co-compatible JSON endpoint.
package geo
