package store

// DefaultSettings returns the settings seeded on first boot. Seeding never
// overwrites a key an operator has already changed.
func DefaultSettings() []Setting {
	return []Setting{
		// Adaptive check-in pacing, keyed by power state.
		{Key: "checkin_plugged_seconds", Value: "30", Label: "Check-in interval when plugged in (s)", Category: "checkin"},
		{Key: "checkin_battery_100_80_seconds", Value: "60", Label: "Check-in interval on battery 100-80% (s)", Category: "checkin"},
		{Key: "checkin_battery_79_50_seconds", Value: "180", Label: "Check-in interval on battery 79-50% (s)", Category: "checkin"},
		{Key: "checkin_battery_49_20_seconds", Value: "300", Label: "Check-in interval on battery 49-20% (s)", Category: "checkin"},
		{Key: "checkin_battery_19_10_seconds", Value: "600", Label: "Check-in interval on battery 19-10% (s)", Category: "checkin"},
		{Key: "checkin_battery_9_0_seconds", Value: "900", Label: "Check-in interval on battery 9-0% (s)", Category: "checkin"},
		{Key: "disk_scan_interval_hours", Value: "168", Label: "Hours between automatic disk scans", Category: "checkin"},

		{Key: "offline_threshold_minutes", Value: "10", Label: "Minutes without contact before a device is offline", Category: "monitoring"},
		{Key: "log_retention_days", Value: "14", Label: "Days to keep server log entries", Category: "monitoring"},

		// Email notifications are disabled until smtp_host and
		// alert_recipient are set.
		{Key: "smtp_host", Value: "", Label: "SMTP host", Category: "email"},
		{Key: "smtp_port", Value: "587", Label: "SMTP port", Category: "email"},
		{Key: "smtp_username", Value: "", Label: "SMTP username", Category: "email"},
		{Key: "smtp_password", Value: "", Label: "SMTP password", Category: "email"},
		{Key: "smtp_from", Value: "", Label: "From address", Category: "email"},
		{Key: "alert_recipient", Value: "", Label: "Alert recipient address", Category: "email"},
	}
}
