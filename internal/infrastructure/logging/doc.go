// Package logging provides structured logging for the MQTT bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across every component.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("engine").Info("bridge started", "index", 0)
//
// Never log broker passwords; config.MQTTConfig has a redacting String().
package logging
