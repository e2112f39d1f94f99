/*
Package log provides structured logging for shepherd using zerolog.

The CLI initializes it once, before any verb runs:

	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Packages that perform I/O pull a scoped child logger instead of logging
through a bare global:

	hostLog := log.WithHost("it01")
	hostLog.Info().Str("tag", "lock_host").Msg("command sent")

	execLog := log.WithComponent("executor")
	execLog.Error().Err(err).Msg("action failed")

Logs go to stderr; stdout is reserved for the statusline and other
machine-consumable output.
*/
package log
