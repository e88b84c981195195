// Package scheduler triggers speed-test cycles on a cron schedule
// (robfig/cron/v3). Overlapping runs are skipped, the schedule can be
// swapped at runtime when the config file changes, and cron's own log output
// goes through log/slog.
package scheduler
