package config

const (
	defaultStorageDialect = "sqlite3"
	defaultSQLitePath     = "mnemo.db"

	defaultPrimaryProvider   = "inmemory"
	defaultPrimaryCollection = "memories"

	defaultEventsTopic = "mnemo.memory.mutations"

	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Dialect:    defaultStorageDialect,
			SQLitePath: defaultSQLitePath,
		},
		Primary: PrimaryConfig{
			Provider:   defaultPrimaryProvider,
			Collection: defaultPrimaryCollection,
		},
		Events: EventsConfig{
			Enabled: false,
			Topic:   defaultEventsTopic,
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
