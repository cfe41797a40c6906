package instance

import "os"

// GetID identifies the running process in logs and lock ownership. It checks
// DIGISTORE_INSTANCE_ID, then the dyno name, then the hostname.
func GetID() string {
	for _, key := range []string{"DIGISTORE_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
