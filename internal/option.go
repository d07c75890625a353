package internal

// Option is a functional option for configuring one invocation.
type Option func(*application)

type application struct {
	config *Config

	allowMissingIDFiles bool
	idempotencyKey      string
	sidecarPath         string
	historyLimit        int
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithAllowMissingIDFiles downgrades missing idFiles to warnings.
func WithAllowMissingIDFiles(allow bool) Option {
	return func(a *application) {
		a.allowMissingIDFiles = allow
	}
}

// WithIdempotencyKey sets the invocation-level idempotency key.
func WithIdempotencyKey(key string) Option {
	return func(a *application) {
		a.idempotencyKey = key
	}
}

// WithSidecarPath overrides where the symbol side-car file is written.
func WithSidecarPath(path string) Option {
	return func(a *application) {
		a.sidecarPath = path
	}
}

// WithHistoryLimit caps how many journaled applies are listed.
func WithHistoryLimit(n int) Option {
	return func(a *application) {
		a.historyLimit = n
	}
}
