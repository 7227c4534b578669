package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds the aria server configuration
type Config struct {
	// SIP settings
	Port          int
	BindAddr      string // Address to bind for listening
	AdvertiseAddr string // Address to advertise in SIP headers and SDP
	LogLevel      string

	// Routing settings
	RoutesPath string // Path to routes.json config file

	// Trunk is the SIP host bare Dial numbers are routed through
	Trunk string

	// Script fetch settings
	FetchTimeout time.Duration

	// Media settings
	AudioCacheDir string
	TTSDir        string
	TTSBinary     string
	RecordDir     string
	RecordBaseURL string
	MusicPath     string
	BeepPath      string
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{
		FetchTimeout: 10 * time.Second,
	}

	// Define flags
	flag.IntVar(&cfg.Port, "port", 5060, "SIP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.RoutesPath, "routes", "resources/config/routes.json", "Path to route configuration file")
	flag.StringVar(&cfg.Trunk, "trunk", "", "SIP trunk host for outbound dials")
	flag.StringVar(&cfg.AudioCacheDir, "cache", "/tmp/aria/cache", "Directory for downloaded audio")
	flag.StringVar(&cfg.TTSDir, "tts-dir", "/tmp/aria/tts", "Directory for synthesized speech")
	flag.StringVar(&cfg.TTSBinary, "tts-bin", "flite", "Speech synthesis binary")
	flag.StringVar(&cfg.RecordDir, "record-dir", "/tmp/aria/recordings", "Directory for recordings")
	flag.StringVar(&cfg.RecordBaseURL, "record-url", "", "Public URL prefix reported for recordings")
	flag.StringVar(&cfg.MusicPath, "music", "", "WAV file looped as hold music")
	flag.StringVar(&cfg.BeepPath, "beep", "", "WAV file played before recordings")

	flag.Parse()

	// Override with environment variables if set
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if bind := os.Getenv("BIND"); bind != "" {
		cfg.BindAddr = bind
	}
	if advertise := os.Getenv("ADVERTISE"); advertise != "" {
		cfg.AdvertiseAddr = advertise
	}
	// Validate and fallback to auto-detection if invalid
	if cfg.AdvertiseAddr == "" || !isValidAddress(cfg.AdvertiseAddr) {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if routes := os.Getenv("ROUTES_PATH"); routes != "" {
		cfg.RoutesPath = routes
	}
	if trunk := os.Getenv("TRUNK"); trunk != "" {
		cfg.Trunk = trunk
	}
	if dir := os.Getenv("AUDIO_CACHE_DIR"); dir != "" {
		cfg.AudioCacheDir = dir
	}
	if dir := os.Getenv("TTS_DIR"); dir != "" {
		cfg.TTSDir = dir
	}
	if bin := os.Getenv("TTS_BIN"); bin != "" {
		cfg.TTSBinary = bin
	}
	if dir := os.Getenv("RECORD_DIR"); dir != "" {
		cfg.RecordDir = dir
	}
	if u := os.Getenv("RECORD_BASE_URL"); u != "" {
		cfg.RecordBaseURL = u
	}
	if music := os.Getenv("MUSIC_PATH"); music != "" {
		cfg.MusicPath = music
	}
	if beep := os.Getenv("BEEP_PATH"); beep != "" {
		cfg.BeepPath = beep
	}
	if timeout := os.Getenv("FETCH_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.FetchTimeout = d
		}
	}

	return cfg
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	// Check if it's a valid IP address
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	// Try to resolve as hostname
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
