// Package config loads the scriptgate configuration.
//
// # Configuration Sources
//
// Values are resolved in this order, later sources winning:
//
//  1. Default()
//  2. A YAML file (SCRIPTGATE_CONFIG_FILE, config.yaml or configs/config.yaml)
//  3. Environment variables
//
// # Environment Variables
//
// Variables follow SCRIPTGATE_<SECTION>_<FIELD>:
//
//	SCRIPTGATE_SERVER_PORT=3000
//	SCRIPTGATE_ENTITLEMENT_TRIAL_WINDOW=2m
//	SCRIPTGATE_STORE_DRIVER=redis
//	SCRIPTGATE_STORE_REDIS_ADDR=localhost:6379
//
// When the prefixed name is unset the bare field name is consulted, so the
// conventional PORT, TRIAL_WINDOW and LICENSE_WINDOW work as expected.
package config
