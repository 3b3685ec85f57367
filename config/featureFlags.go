package config

import (
	"os"
	"strings"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SkipPreValidation drops the validation pass that runs before branch processing. The pass after
// processing always runs.
//
// Set via env:
// - SKIP_PRE_VALIDATION=true
func SkipPreValidation() bool {
	return envBool("SKIP_PRE_VALIDATION")
}

// NotificationsDisabled silences Pub/Sub notifications even when PUBSUB_TOPIC is set.
//
// Set via env:
// - DISABLE_NOTIFICATIONS=true
func NotificationsDisabled() bool {
	return envBool("DISABLE_NOTIFICATIONS")
}
