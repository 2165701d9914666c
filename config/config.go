package config

type AppConfig struct {
	// DownloadDir is the root of the local blob store, one subtree per account
	DownloadDir string `env:"DOWNLOAD_DIR" envDefault:"emails"`
	// PageLimit caps how many pending mails one orchestrator pass loads
	PageLimit int `env:"DOWNLOAD_PAGE_LIMIT" envDefault:"100"`
	// Concurrency is the number of simultaneous worker processes; 1 = in-process sequential
	Concurrency int `env:"DOWNLOAD_CONCURRENCY" envDefault:"1"`
	// WorkerTimeoutMinutes bounds one spawned batch process wall-clock
	WorkerTimeoutMinutes int `env:"DOWNLOAD_WORKER_TIMEOUT_MINUTES" envDefault:"30"`
	// ProgressPollSeconds is the interval for polling downloaded counts while a page drains
	ProgressPollSeconds int    `env:"DOWNLOAD_PROGRESS_POLL_SECONDS" envDefault:"5"`
	RabbitMQURL         string `env:"RABBITMQ_URL"`
}

type ImapConfig struct {
	Server string `env:"IMAP_SERVER" envDefault:"imap.gmail.com"`
	Port   int    `env:"IMAP_PORT" envDefault:"993"`
	TLS    bool   `env:"IMAP_TLS" envDefault:"true"`
	// SyncBatchSize is how many envelopes one sync fetch requests at a time
	SyncBatchSize uint32 `env:"IMAP_SYNC_BATCH_SIZE" envDefault:"500"`
}

type DatabaseConfig struct {
	Host            string `env:"MAILVAULT_POSTGRES_HOST,required"`
	Port            string `env:"MAILVAULT_POSTGRES_PORT,required"`
	User            string `env:"MAILVAULT_POSTGRES_USER,required"`
	DBName          string `env:"MAILVAULT_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILVAULT_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILVAULT_POSTGRES_DB_MAX_CONN" envDefault:"20"`
	MaxIdleConn     int    `env:"MAILVAULT_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"5"`
	ConnMaxLifetime int    `env:"MAILVAULT_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILVAULT_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILVAULT_POSTGRES_SSL_MODE" envDefault:"disable"`
}

type StorageConfig struct {
	// Backend selects the blob store implementation: local or s3
	Backend         string `env:"STORAGE_BACKEND" envDefault:"local"`
	S3Region        string `env:"STORAGE_S3_REGION"`
	S3Bucket        string `env:"STORAGE_S3_BUCKET"`
	AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"STORAGE_S3_ACCESS_KEY_SECRET"`
}
