// Package logging provides opt-in, rotating, JSON structured logging for
// the knowledge core. DefaultConfig logs at info level to
// ~/.corekit/logs/core.log and mirrors each record to stderr; Config.Level
// and Config.FilePath select other levels and files.
package logging
