package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Mailbox sync pass, every hour
	CronScheduleSync string `env:"CRON_SCHEDULE_SYNC" envDefault:"0 0 * * * *"`
	// Download pass over incomplete accounts, every 15 minutes
	CronScheduleDownload string `env:"CRON_SCHEDULE_DOWNLOAD" envDefault:"0 */15 * * * *"`
}
