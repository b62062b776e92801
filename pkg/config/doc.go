// Package config loads the service configuration.
//
// Values come from the environment, optionally seeded from a .env file, and
// are read into Config with cleanenv struct tags. Load validates the result
// and reports every problem at once:
//
//	config.LoadEnvFile()
//	cfg, err := config.Load()
//	if err != nil {
//	    // configuration validation failed:
//	    //   - CHALLENGE_TTL: must be positive, got 0s
//	    //   - VAULT_BACKEND: must be one of [memory postgres], got "mysql"
//	}
//	cfg.SetupLogger()
//
// Each settings group adds its rejected values to a shared checker, so one
// Validate call reports every problem.
package config
