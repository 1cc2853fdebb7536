// Package config handles loading and validating avrlink configuration.
//
// Configuration is layered: built-in defaults, then the YAML file, then
// AVRLINK_* environment variables. Validate collects every problem rather
// than stopping at the first.
//
// Sensitive values (MQTT password, InfluxDB token) should come from the
// environment or a .env file, not the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.ID, d.Host)
//	}
package config
