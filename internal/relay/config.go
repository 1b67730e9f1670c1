package relay

import "time"

// SessionConfig holds configuration for individual client sessions.
type SessionConfig struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for a frame from the client.
	// Default: 5 minutes.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time one outbound frame may take before
	// the recipient is treated as unreachable.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HandshakeTimeout is the maximum time for the Hello frame to arrive.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// Limits

	// OutboxSize is the per-session outbound queue depth. A full outbox
	// marks the session unreachable rather than blocking the broadcaster.
	// Default: 128.
	OutboxSize int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReadTimeout:      5 * time.Minute,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		OutboxSize:       128,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ServerConfig holds configuration for the relay server.
type ServerConfig struct {
	// Address is the TCP address to listen on (e.g., ":7465").
	// Default: ":7465".
	Address string

	// Session configuration

	// SessionConfig is the configuration for individual sessions.
	// Default: DefaultSessionConfig().
	SessionConfig *SessionConfig

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Limits

	// MaxClients is the maximum number of concurrent clients.
	// 0 means no limit.
	// Default: 0 (no limit).
	MaxClients int

	// HistorySize is the number of recent messages retained in memory and
	// replayed to newly admitted clients. 0 disables history.
	// Default: 50.
	HistorySize int

	// Security

	// RequireAuth demands a valid session token in the handshake.
	// Tokens are minted by the account layer; with RequireAuth false the
	// display name alone admits a client.
	// Default: false.
	RequireAuth bool
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         ":7465",
		SessionConfig:   DefaultSessionConfig(),
		ShutdownTimeout: 30 * time.Second,
		MaxClients:      0, // No limit
		HistorySize:     50,
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SessionConfig != nil {
		clone.SessionConfig = c.SessionConfig.Clone()
	}
	return &clone
}

// WithAddress sets the listen address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithMaxClients sets the client limit and returns the config for chaining.
func (c *ServerConfig) WithMaxClients(max int) *ServerConfig {
	c.MaxClients = max
	return c
}

// WithHistorySize sets the history depth and returns the config for chaining.
func (c *ServerConfig) WithHistorySize(n int) *ServerConfig {
	c.HistorySize = n
	return c
}
