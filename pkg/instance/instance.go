// Package instance names the running process for logs and lock ownership.
package instance

import (
	"os"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/env"
)

const fallbackID = "local"

// ID prefers an explicit MARCHE_INSTANCE_ID, then the platform dyno name, then
// the hostname.
func ID() string {
	if id := env.First("MARCHE_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
