// Package log provides the leveled, printf-style logging interface used across
// chatpipe.
//
// Components accept a Logger and fall back to the package-level default when
// none is given. Two implementations ship with the package:
//
//   - DefaultLogger writes through the standard library log package.
//   - GologLogger delegates to github.com/kataras/golog, which is what the
//     chatpipe binary installs as the default.
//
// Named wraps any Logger so that each component tags its own lines:
//
//	logger := log.Named(log.NewGologLoggerWithLevel(log.LogLevelDebug), "engine")
//	logger.Info("run %s finished with status %s", runID, status)
//
// Levels are ordered Debug < Info < Warn < Error < None; ParseLevel converts
// the strings used in configuration files.
package log
