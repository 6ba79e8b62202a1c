package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Service information
	Service struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Environment string `yaml:"environment"`
	} `yaml:"service"`

	// HTTP server configuration
	HTTP struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	// Signaling relay configuration
	Signaling struct {
		URL        string        `yaml:"url"`
		ClientID   string        `yaml:"client_id"`
		Role       string        `yaml:"role"`
		RemoteID   string        `yaml:"remote_id"`
		AuthSecret string        `yaml:"auth_secret"`
		TokenTTL   time.Duration `yaml:"token_ttl"`
	} `yaml:"signaling"`

	// WebRTC configuration
	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	// Speech model stream configuration
	Model struct {
		URL          string `yaml:"url"`
		APIKey       string `yaml:"api_key"`
		SystemPrompt string `yaml:"system_prompt"`
		VoiceID      string `yaml:"voice_id"`
	} `yaml:"model"`

	// Audio pipeline configuration
	Audio struct {
		ChunkSamples      int     `yaml:"chunk_samples"`
		FlushInterval     int     `yaml:"flush_interval"`
		GainReduction     float64 `yaml:"gain_reduction"`
		VADEnabled        bool    `yaml:"vad_enabled"`
		VADAggressiveness int     `yaml:"vad_aggressiveness"`
	} `yaml:"audio"`

	// Data channel reliability configuration
	Channel struct {
		AckTimeout    time.Duration `yaml:"ack_timeout"`
		MaxRetries    int           `yaml:"max_retries"`
		RetryBase     time.Duration `yaml:"retry_base"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
		SendLimit     float64       `yaml:"send_limit"`
		SendBurst     int           `yaml:"send_burst"`
	} `yaml:"channel"`

	// Logging configuration
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// ICEServer represents a WebRTC ICE server configuration
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// Roles the bridge can run as.
const (
	RoleMaster = "master"
	RoleViewer = "viewer"
)

// Load loads the configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvironmentOverrides(config)
	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvironmentOverrides applies environment overrides
func applyEnvironmentOverrides(config *Config) {
	if addr := os.Getenv("HTTP_ADDRESS"); addr != "" {
		config.HTTP.Address = addr
	}
	if url := os.Getenv("SIGNALING_URL"); url != "" {
		config.Signaling.URL = url
	}
	if id := os.Getenv("SIGNALING_CLIENT_ID"); id != "" {
		config.Signaling.ClientID = id
	}
	if role := os.Getenv("SIGNALING_ROLE"); role != "" {
		config.Signaling.Role = role
	}
	if id := os.Getenv("SIGNALING_REMOTE_ID"); id != "" {
		config.Signaling.RemoteID = id
	}
	if secret := os.Getenv("SIGNALING_AUTH_SECRET"); secret != "" {
		config.Signaling.AuthSecret = secret
	}
	if url := os.Getenv("MODEL_URL"); url != "" {
		config.Model.URL = url
	}
	if key := os.Getenv("MODEL_API_KEY"); key != "" {
		config.Model.APIKey = key
	}
	if enabled := os.Getenv("VAD_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			config.Audio.VADEnabled = v
		}
	}
	if level := os.Getenv("VAD_AGGRESSIVENESS"); level != "" {
		if v, err := strconv.Atoi(level); err == nil {
			config.Audio.VADAggressiveness = v
		}
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Service.Environment = env
	}
}

// setDefaults sets default values
func setDefaults(config *Config) {
	if config.Service.Name == "" {
		config.Service.Name = "voicebridge"
	}
	if config.HTTP.Address == "" {
		config.HTTP.Address = ":8090"
	}
	if config.HTTP.ReadTimeout == 0 {
		config.HTTP.ReadTimeout = 10 * time.Second
	}
	if config.HTTP.WriteTimeout == 0 {
		config.HTTP.WriteTimeout = 10 * time.Second
	}
	if config.HTTP.ShutdownTimeout == 0 {
		config.HTTP.ShutdownTimeout = 5 * time.Second
	}

	if config.Signaling.Role == "" {
		config.Signaling.Role = RoleMaster
	}
	if config.Signaling.TokenTTL == 0 {
		config.Signaling.TokenTTL = time.Hour
	}

	if len(config.WebRTC.ICEServers) == 0 {
		config.WebRTC.ICEServers = []ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}

	if config.Audio.VADAggressiveness == 0 && os.Getenv("VAD_AGGRESSIVENESS") == "" {
		config.Audio.VADAggressiveness = 2
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
}

// validate rejects configurations that cannot run
func validate(config *Config) error {
	if config.Signaling.URL == "" {
		return fmt.Errorf("signaling.url is required")
	}
	if config.Signaling.ClientID == "" {
		return fmt.Errorf("signaling.client_id is required")
	}
	if config.Signaling.Role != RoleMaster && config.Signaling.Role != RoleViewer {
		return fmt.Errorf("signaling.role must be %q or %q, got %q", RoleMaster, RoleViewer, config.Signaling.Role)
	}
	if config.Signaling.Role == RoleViewer && config.Signaling.RemoteID == "" {
		return fmt.Errorf("signaling.remote_id is required in the viewer role")
	}
	if config.Model.URL == "" {
		return fmt.Errorf("model.url is required")
	}
	if config.Audio.VADAggressiveness < 0 || config.Audio.VADAggressiveness > 3 {
		return fmt.Errorf("audio.vad_aggressiveness must be 0..3, got %d", config.Audio.VADAggressiveness)
	}
	return nil
}
