package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Platform holds the messaging platform's own HTTP API settings, consumed by
// journey checks.
type Platform struct {
	APIURL        string // e.g. https://api.chat.example.com
	Domain        string // base domain slug for the public config lookup
	AdminEmail    string
	AdminPassword string
}

func (p Platform) Missing() []string {
	var out []string
	if p.APIURL == "" {
		out = append(out, "PLATFORM_API_URL")
	}
	if p.Domain == "" {
		out = append(out, "PLATFORM_DOMAIN")
	}
	if p.AdminEmail == "" {
		out = append(out, "PLATFORM_ADMIN_EMAIL")
	}
	if p.AdminPassword == "" {
		out = append(out, "PLATFORM_ADMIN_PASSWORD")
	}
	return out
}

// XMPP holds protocol-side settings for room-echo checks and advanced
// journeys. Sender/Receiver credentials are optional; when absent the probe
// derives deterministic per-role passwords from AccountSecret.
type XMPP struct {
	WSURL         string // websocket endpoint, e.g. wss://xmpp.example.com/ws
	Host          string
	MUCService    string // defaults to conference.<host>
	AdminUser     string
	AdminPassword string
	AdminAPIURL   string // provisioning REST endpoint
	AccountSecret string
	SenderUser    string
	SenderPass    string
	ReceiverUser  string
	ReceiverPass  string
	ObserverRoom  string // optional; progress side channel for journeys
}

func (x XMPP) Missing() []string {
	var out []string
	if x.WSURL == "" {
		out = append(out, "XMPP_WS_URL")
	}
	if x.Host == "" {
		out = append(out, "XMPP_HOST")
	}
	if x.AdminUser == "" {
		out = append(out, "XMPP_ADMIN_USER")
	}
	if x.AdminPassword == "" {
		out = append(out, "XMPP_ADMIN_PASSWORD")
	}
	if x.AccountSecret == "" && (x.SenderUser == "" || x.ReceiverUser == "") {
		out = append(out, "XMPP_ACCOUNT_SECRET")
	}
	return out
}

type Config struct {
	Addr         string // API bind address
	LogDir       string
	Debug        bool
	DatabasePath string // sqlite file; empty means in-memory store
	ChecksFile   string // YAML check definitions

	Platform Platform
	XMPP     XMPP
}

func FromEnv() Config {
	_ = godotenv.Load()

	cfg := Config{
		Addr:         getenv("API_ADDR", "127.0.0.1:8080"),
		LogDir:       getenv("LOG_DIR", "logs"),
		Debug:        os.Getenv("DEBUG") == "1",
		DatabasePath: os.Getenv("DATABASE_PATH"),
		ChecksFile:   getenv("CHECKS_FILE", "checks.yaml"),
		Platform: Platform{
			APIURL:        strings.TrimRight(os.Getenv("PLATFORM_API_URL"), "/"),
			Domain:        os.Getenv("PLATFORM_DOMAIN"),
			AdminEmail:    os.Getenv("PLATFORM_ADMIN_EMAIL"),
			AdminPassword: os.Getenv("PLATFORM_ADMIN_PASSWORD"),
		},
		XMPP: XMPP{
			WSURL:         os.Getenv("XMPP_WS_URL"),
			Host:          os.Getenv("XMPP_HOST"),
			MUCService:    os.Getenv("XMPP_MUC_SERVICE"),
			AdminUser:     os.Getenv("XMPP_ADMIN_USER"),
			AdminPassword: os.Getenv("XMPP_ADMIN_PASSWORD"),
			AdminAPIURL:   strings.TrimRight(os.Getenv("XMPP_ADMIN_API_URL"), "/"),
			AccountSecret: os.Getenv("XMPP_ACCOUNT_SECRET"),
			SenderUser:    os.Getenv("XMPP_TEST_SENDER_USER"),
			SenderPass:    os.Getenv("XMPP_TEST_SENDER_PASS"),
			ReceiverUser:  os.Getenv("XMPP_TEST_RECEIVER_USER"),
			ReceiverPass:  os.Getenv("XMPP_TEST_RECEIVER_PASS"),
			ObserverRoom:  os.Getenv("XMPP_OBSERVER_ROOM"),
		},
	}
	if cfg.XMPP.MUCService == "" && cfg.XMPP.Host != "" {
		cfg.XMPP.MUCService = "conference." + cfg.XMPP.Host
	}
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
