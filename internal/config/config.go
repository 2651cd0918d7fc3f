package config

import (
	"bufio"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/retry"
	"gopkg.in/yaml.v3"
)

// loadEnv reads .env outside production only. Production config comes from the environment.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// IceServer is a STUN/TURN entry in RTCIceServer shape.
type IceServer struct {
	URLs           []string `yaml:"urls" json:"urls"`
	Username       string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential     string   `yaml:"credential,omitempty" json:"credential,omitempty"`
	CredentialType string   `yaml:"credential_type,omitempty" json:"credential_type,omitempty"`
}

// Client holds the client core settings.
// Precedence: environment, then YAML file, then defaults.
type Client struct {
	ServerURL string // ws(s)://host/ws
	APIURL    string // http(s)://host

	DialTimeout       time.Duration
	ReconnectAttempts int
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	SendRetryDelay    time.Duration

	TypingIdle     time.Duration
	TypingExpiry   time.Duration
	PresenceResync time.Duration

	RingInterval   time.Duration
	MediaTimeout   time.Duration
	CallICEServers []IceServer

	LogLevel string
}

// Relay holds the dev relay settings (protocol server and REST history).
type Relay struct {
	ServerAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	JWTSecret          string
	DatabaseURL        string
	DBMaxConnections   int
	RedisURL           string
	CORSAllowedOrigins string

	MaxWSConnections int
	WSSendBufferSize int
	WSWriteTimeout   time.Duration
	WSPongTimeout    time.Duration
	WSMaxMessageSize int64

	CallICEServers []IceServer
	MetricsSecret  string
	LogLevel       string
}

// clientYAML mirrors config/client.yaml, where durations are plain numbers of seconds or milliseconds.
type clientYAML struct {
	ServerURL         string      `yaml:"server_url"`
	APIURL            string      `yaml:"api_url"`
	DialTimeoutSec    int         `yaml:"dial_timeout"`
	ReconnectAttempts int         `yaml:"reconnect_attempts"`
	ReconnectBaseMS   int         `yaml:"reconnect_base_ms"`
	ReconnectMaxMS    int         `yaml:"reconnect_max_ms"`
	SendRetryDelayMS  int         `yaml:"send_retry_delay_ms"`
	TypingIdleMS      int         `yaml:"typing_idle_ms"`
	TypingExpiryMS    int         `yaml:"typing_expiry_ms"`
	PresenceResyncSec int         `yaml:"presence_resync"`
	RingIntervalMS    int         `yaml:"ring_interval_ms"`
	MediaTimeoutSec   int         `yaml:"media_timeout"`
	CallICEServers    []IceServer `yaml:"call_ice_servers"`
	LogLevel          string      `yaml:"log_level"`
}

type relayYAML struct {
	ServerAddr         string      `yaml:"server_addr"`
	ReadTimeout        int         `yaml:"read_timeout"`
	WriteTimeout       int         `yaml:"write_timeout"`
	IdleTimeout        int         `yaml:"idle_timeout"`
	JWTSecret          string      `yaml:"jwt_secret"`
	DatabaseURL        string      `yaml:"database_url"`
	DBMaxConnections   int         `yaml:"db_max_connections"`
	RedisURL           string      `yaml:"redis_url"`
	CORSAllowedOrigins string      `yaml:"cors_allowed_origins"`
	MaxWSConnections   int         `yaml:"max_ws_connections"`
	WSSendBufferSize   int         `yaml:"ws_send_buffer_size"`
	WSWriteTimeout     int         `yaml:"ws_write_timeout"`
	WSPongTimeout      int         `yaml:"ws_pong_timeout"`
	WSMaxMessageSize   int         `yaml:"ws_max_message_size"`
	CallICEServers     []IceServer `yaml:"call_ice_servers"`
	MetricsSecret      string      `yaml:"metrics_secret"`
	LogLevel           string      `yaml:"log_level"`
}

// DefaultClient returns the built-in defaults.
func DefaultClient() *Client {
	return &Client{
		ServerURL:         "ws://localhost:8090/ws",
		APIURL:            "http://localhost:8090",
		DialTimeout:       10 * time.Second,
		ReconnectAttempts: 5,
		ReconnectBase:     time.Second,
		ReconnectMax:      5 * time.Second,
		SendRetryDelay:    time.Second,
		TypingIdle:        2 * time.Second,
		TypingExpiry:      3 * time.Second,
		PresenceResync:    30 * time.Second,
		RingInterval:      3 * time.Second,
		MediaTimeout:      30 * time.Second,
		CallICEServers:    []IceServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		LogLevel:          "info",
	}
}

// LoadClient loads the client configuration.
// .env is loaded first if present, then YAML, then env overrides.
func LoadClient() *Client {
	loadEnv()
	d := DefaultClient()
	yc := clientYAML{
		ServerURL:         d.ServerURL,
		APIURL:            d.APIURL,
		DialTimeoutSec:    int(d.DialTimeout / time.Second),
		ReconnectAttempts: d.ReconnectAttempts,
		ReconnectBaseMS:   int(d.ReconnectBase / time.Millisecond),
		ReconnectMaxMS:    int(d.ReconnectMax / time.Millisecond),
		SendRetryDelayMS:  int(d.SendRetryDelay / time.Millisecond),
		TypingIdleMS:      int(d.TypingIdle / time.Millisecond),
		TypingExpiryMS:    int(d.TypingExpiry / time.Millisecond),
		PresenceResyncSec: int(d.PresenceResync / time.Second),
		RingIntervalMS:    int(d.RingInterval / time.Millisecond),
		MediaTimeoutSec:   int(d.MediaTimeout / time.Second),
		LogLevel:          d.LogLevel,
	}
	readYAML(&yc, os.Getenv("CONFIG_PATH"), "config/client.yaml")

	iceServers := iceServersFromEnv(yc.CallICEServers)
	if len(iceServers) == 0 {
		iceServers = d.CallICEServers
	}

	return &Client{
		ServerURL:         envStr("SERVER_URL", yc.ServerURL),
		APIURL:            strings.TrimSuffix(envStr("API_URL", yc.APIURL), "/"),
		DialTimeout:       time.Duration(envInt("DIAL_TIMEOUT", yc.DialTimeoutSec)) * time.Second,
		ReconnectAttempts: envInt("RECONNECT_ATTEMPTS", yc.ReconnectAttempts),
		ReconnectBase:     time.Duration(envInt("RECONNECT_BASE_MS", yc.ReconnectBaseMS)) * time.Millisecond,
		ReconnectMax:      time.Duration(envInt("RECONNECT_MAX_MS", yc.ReconnectMaxMS)) * time.Millisecond,
		SendRetryDelay:    time.Duration(envInt("SEND_RETRY_DELAY_MS", yc.SendRetryDelayMS)) * time.Millisecond,
		TypingIdle:        time.Duration(envInt("TYPING_IDLE_MS", yc.TypingIdleMS)) * time.Millisecond,
		TypingExpiry:      time.Duration(envInt("TYPING_EXPIRY_MS", yc.TypingExpiryMS)) * time.Millisecond,
		PresenceResync:    time.Duration(envInt("PRESENCE_RESYNC", yc.PresenceResyncSec)) * time.Second,
		RingInterval:      time.Duration(envInt("RING_INTERVAL_MS", yc.RingIntervalMS)) * time.Millisecond,
		MediaTimeout:      time.Duration(envInt("MEDIA_TIMEOUT", yc.MediaTimeoutSec)) * time.Second,
		CallICEServers:    iceServers,
		LogLevel:          envStr("LOG_LEVEL", yc.LogLevel),
	}
}

// ReconnectPolicy is the transport reconnect schedule (1s, 2s, 4s, 5s, 5s by default).
func (c *Client) ReconnectPolicy() retry.Policy {
	p := retry.Reconnect
	if c.ReconnectAttempts > 0 {
		p.MaxAttempts = c.ReconnectAttempts
	}
	if c.ReconnectBase > 0 {
		p.BaseDelay = c.ReconnectBase
	}
	if c.ReconnectMax > 0 {
		p.MaxDelay = c.ReconnectMax
	}
	return p
}

// SendRetryPolicy retries a send once when there is no live session.
func (c *Client) SendRetryPolicy() retry.Policy {
	d := c.SendRetryDelay
	if d <= 0 {
		d = time.Second
	}
	return retry.Once(d)
}

// LoadRelay loads the relay configuration from CONFIG_PATH or config/relay.yaml, then env.
func LoadRelay() *Relay {
	loadEnv()
	yc := relayYAML{
		ServerAddr:         ":8090",
		ReadTimeout:        15,
		WriteTimeout:       15,
		IdleTimeout:        60,
		JWTSecret:          "dev-secret",
		DBMaxConnections:   20,
		CORSAllowedOrigins: "*",
		MaxWSConnections:   10000,
		WSSendBufferSize:   256,
		WSWriteTimeout:     10,
		WSPongTimeout:      60,
		WSMaxMessageSize:   65536,
		LogLevel:           "info",
	}
	readYAML(&yc, os.Getenv("CONFIG_PATH"), "config/relay.yaml")

	iceServers := iceServersFromEnv(yc.CallICEServers)
	if len(iceServers) == 0 {
		iceServers = []IceServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	cfg := &Relay{
		ServerAddr:         envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:        time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout:       time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:        time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		JWTSecret:          envStr("JWT_SECRET", yc.JWTSecret),
		DatabaseURL:        envStr("DATABASE_URL", yc.DatabaseURL),
		DBMaxConnections:   envInt("DB_MAX_CONNECTIONS", yc.DBMaxConnections),
		RedisURL:           envStr("REDIS_URL", yc.RedisURL),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		WSSendBufferSize:   envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		WSWriteTimeout:     time.Duration(envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout)) * time.Second,
		WSPongTimeout:      time.Duration(envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout)) * time.Second,
		WSMaxMessageSize:   int64(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)),
		CallICEServers:     iceServers,
		MetricsSecret:      envStr("METRICS_SECRET", yc.MetricsSecret),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
	}
	if cfg.DBMaxConnections <= 0 {
		cfg.DBMaxConnections = 20
	}

	if os.Getenv("APP_ENV") == "production" && cfg.JWTSecret == "dev-secret" {
		logger.Errorf("config: set JWT_SECRET in production, the development default is not safe")
		os.Exit(1)
	}
	return cfg
}

// readYAML decodes the first existing file in paths over the defaults already in out.
func readYAML(out any, paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, out); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		return
	}
}

// iceServersFromEnv reads CALL_ICE_SERVERS (JSON), which wins over YAML.
func iceServersFromEnv(fallback []IceServer) []IceServer {
	raw := os.Getenv("CALL_ICE_SERVERS")
	if raw == "" {
		return fallback
	}
	var parsed []IceServer
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		logger.Errorf("config: invalid CALL_ICE_SERVERS json: %v", err)
		return fallback
	}
	return parsed
}

// envStr returns the variable or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the variable as an int or fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
