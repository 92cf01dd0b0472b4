package config

// StoreConfig selects the task store backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`

	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`
}

// QueueConfig configures the task job queue.
type QueueConfig struct {
	// Driver is "memory". The interface leaves room for brokered
	// backends without touching callers.
	Driver string `yaml:"driver"`

	// Buffer is the queue depth before enqueue blocks.
	Buffer int `yaml:"buffer"`
}
