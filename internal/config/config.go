// Package config loads the handful of keys the proxy core reads. The
// broader admin-surface config loader lives outside this module; this
// package only binds the keys the pipeline itself needs, via Viper so the
// same loader can read YAML, TOML, env vars, or flags without the core
// caring which.
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Proxy holds the fully resolved configuration for one proxy instance.
type Proxy struct {
	OnlineMode           bool
	ServerPort           int
	Bind                 string
	CompressionThreshold int
	MaxPlayers           int
	EncryptionKeySize    int
	LogLevel             string
	IdleTimeout          time.Duration
	CrossServerEnabled   bool
}

// Defaults mirror a typical server.properties layout: online-mode on,
// compression at a 256-byte threshold, a conservative player cap, and a 1024-bit RSA key
// (the size the login encryption handshake encrypts against).
func defaults(v *viper.Viper) {
	v.SetDefault("proxy.online-mode", true)
	v.SetDefault("proxy.server-port", 25564)
	v.SetDefault("proxy.bind", "0.0.0.0:25565")
	v.SetDefault("proxy.compression-threshold", 256)
	v.SetDefault("proxy.max-players", 20)
	v.SetDefault("proxy.encryption-key-size", 1024)
	v.SetDefault("proxy.log-level", "info")
	v.SetDefault("proxy.idle-timeout-seconds", 30)
	v.SetDefault("proxy.cross-server", false)
}

// Load builds a Viper instance bound to flags (if provided), environment
// variables prefixed BLOCKPROXY_, and an optional config file, then
// resolves it into a Proxy.
func Load(configFile string, flags *pflag.FlagSet) (*Proxy, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("BLOCKPROXY")
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return &Proxy{
		OnlineMode:           v.GetBool("proxy.online-mode"),
		ServerPort:           v.GetInt("proxy.server-port"),
		Bind:                 v.GetString("proxy.bind"),
		CompressionThreshold: v.GetInt("proxy.compression-threshold"),
		MaxPlayers:           v.GetInt("proxy.max-players"),
		EncryptionKeySize:    v.GetInt("proxy.encryption-key-size"),
		LogLevel:             v.GetString("proxy.log-level"),
		IdleTimeout:          time.Duration(v.GetInt("proxy.idle-timeout-seconds")) * time.Second,
		CrossServerEnabled:   v.GetBool("proxy.cross-server"),
	}, nil
}
