// Package config loads the host daemon's startup configuration: policy
// defaults, worker resolution, the diagnostics server address, and the
// connection settings for the optional collaborator adapters.
package config
