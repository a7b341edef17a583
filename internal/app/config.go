package app

// Storage drivers accepted in Config.StoreDriver
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// Config selects the service identity and the queue storage backend.
type Config struct {
	Service     string `env:"SERVICE_NAME" envDefault:"jobkit"`
	StoreDriver string `env:"QUEUE_STORE" envDefault:"memory"`
}
