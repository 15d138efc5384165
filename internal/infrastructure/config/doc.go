// Package config handles loading and validating IoT gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (IOTGW_ prefix)
//   - Validation of required fields
//   - Default value handling
//
// Broker credentials are not part of the file: they live in server profiles
// stored in the database and selected at connect time.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.Name)
package config
