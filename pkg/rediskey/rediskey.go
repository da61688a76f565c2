package rediskey

import "fmt"

const (
	SettingsPrefix     = "settings"
	NotificationPrefix = "notifications"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSettingsKey returns "settings:{name}"
func BuildSettingsKey(name string) string {
	return NamespaceKey(SettingsPrefix, name)
}

// BuildNotificationChannel returns "notifications:{audience}"
func BuildNotificationChannel(audience string) string {
	return NamespaceKey(NotificationPrefix, audience)
}
