// Package config loads refsession configuration.
//
// Values are layered, later sources winning:
//
//  1. Built-in defaults (GetDefaultConfig)
//  2. ~/.config/refsession/config.yaml, or the file given with --config
//  3. A .env file in the working directory
//  4. REFSESSION_* environment variables
//
// Command-line flags are applied by the CLI on top of the result.
//
// # Example
//
//	api:
//	  baseURL: https://portal.example.org/api
//	  timeout: 30s
//	storage:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
//	scheduler:
//	  mode: precise
//	  threshold: 5m
//	guard:
//	  redirectDelay: 2s
//
// LoadConfig validates the merged result and returns ValidationErrors listing
// every problem found.
package config
