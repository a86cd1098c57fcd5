// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# Sources

Values are resolved in this order, first match wins:

 1. CLI flags
 2. Environment variables (a .env file in the working directory is loaded first)
 3. The YAML file named by -c or PACKVOTE_CONFIG
 4. Defaults

# CLI Flags

	-c            YAML config file
	-p            Server port
	-d            Database URL
	-t            Database type (sqlite or postgres)
	--base-url    Public base URL for share links
	--origins     Comma-separated CORS origins
	--nats        NATS URL for round events
	--log-level   debug, info, warn, error
	--log-format  text or json
	--admin-salt  Admin key salt
	--slug-salt   Trip slug salt

# Environment Variables

	PORT, DATABASE_URL, DATABASE_TYPE, BASE_URL, ALLOWED_ORIGINS, NATS_URL,
	LOG_LEVEL, LOG_FORMAT, BALLOT_RATE_PER_MINUTE, RUNOFF_SIZE,
	ADMIN_KEY_SALT, TRIP_SLUG_SALT

# Validation

ParseFlags returns an error if required values are missing:

  - DATABASE_URL must be provided
  - ADMIN_KEY_SALT must be provided
  - TRIP_SLUG_SALT must be provided
  - DATABASE_TYPE must be sqlite or postgres
*/
package cliparse
