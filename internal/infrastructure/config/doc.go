// Package config handles loading and validating the console configuration.
//
// This package manages:
//   - Loading configuration from a YAML file
//   - Overriding with IOTCONSOLE_* environment variables
//   - Validation, with every problem reported at once
//   - Default value handling
//
// Security Considerations:
//   - Secrets (JWT secret, MQTT and Redis passwords, InfluxDB token) should
//     come from the environment or a local .env file, not the YAML file
//   - The JWT secret must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.API.Port)
package config
