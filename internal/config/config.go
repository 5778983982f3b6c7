package config

import "time"

// Config holds relay configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	HistoryDir        string        `mapstructure:"history_dir" yaml:"history_dir"`
	MaxClients        int           `mapstructure:"max_clients" yaml:"max_clients"`
	MaxRooms          int           `mapstructure:"max_rooms" yaml:"max_rooms"`
	MaxRoomMembers    int           `mapstructure:"max_room_members" yaml:"max_room_members"`
}

// Default returns configuration with reasonable starter defaults. The
// capacity ceilings follow the protocol's historical limits.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		HistoryDir:        "history",
		MaxClients:        50,
		MaxRooms:          10,
		MaxRoomMembers:    50,
	}
}
