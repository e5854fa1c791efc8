// Package logging provides structured logging for the IoT console.
//
// It wraps Go's standard log/slog package so every component logs with the
// same shape:
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Component("heartbeat").Warn("sweep failed", "error", err)
//
// Never log passwords, reset tokens or session tokens.
package logging
