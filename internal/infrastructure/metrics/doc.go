// Package metrics exposes engine and HTTP metrics in Prometheus format.
//
// A Metrics value owns a private prometheus.Registry so tests and multiple
// instances never collide on the default registry. It implements
// avr.Observer, so it can be handed straight to session options:
//
//	m := metrics.New()
//	opts.Observer = m
//	router.Use(m.Middleware)
//	router.Handle("/metrics", m.Handler())
//
// Series:
//   - avr_commands_sent_total{device,command}
//   - avr_commands_coalesced_total{device}
//   - avr_command_errors_total{device,command}
//   - avr_connection_state{device,transport} (0 disconnected .. 4 failed)
//   - avr_reconnects_total{device,transport}
//   - avr_events_total{device}
//   - http_requests_total{endpoint,method,status}
//   - http_request_duration_seconds{endpoint,method}
package metrics
