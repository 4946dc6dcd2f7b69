package instance

import (
	"os"
	"strings"

	"github.com/hogansalley/storefront/pkg/env"
)

const fallbackID = "storefront-0"

// GetID identifies this process in logs. STOREFRONT_INSTANCE_ID wins, then the
// platform's DYNO name, then the hostname.
func GetID() string {
	if id := strings.TrimSpace(env.Get("STOREFRONT_INSTANCE_ID", env.Get("DYNO", ""))); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
