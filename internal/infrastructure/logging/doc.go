// Package logging provides structured logging for avrlink.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text while developing, with the service name and version
// attached to every record.
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
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("device connected", "device_id", id)
//
//	avrLog := logger.Component("avr")
//	registry := avr.NewRegistry(avrLog)
//
// *Logger satisfies avr.Logger, so it can be handed straight to the engine.
//
// Never log secrets such as MQTT or InfluxDB credentials.
package logging
