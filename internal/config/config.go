package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Zitadel    ZitadelConfig
	RateLimit  RateLimitConfig
	Storage    StorageConfig
	Scene      ProviderConfig
	Voice      ProviderConfig
	Music      ProviderConfig
	SFX        ProviderConfig
	Generation GenerationConfig
	Gateway    GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type RateLimitConfig struct {
	StartPerHour int
	StatusPerMin int
}

// StorageConfig covers the S3-compatible asset store. When AccessKeyID
// is empty the service falls back to directory-backed local storage.
type StorageConfig struct {
	AccountID       string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	LocalDir        string
}

// ProviderConfig is one external generation provider endpoint.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

// GenerationConfig tunes the pipeline: provider polling, retry bounds,
// and composition defaults.
type GenerationConfig struct {
	PollIntervalSeconds int
	SceneTimeoutSeconds int
	AudioTimeoutSeconds int
	MaxSceneRetries     int
	MaxAudioRetries     int
	CrossfadeSeconds    float64
	VoiceLevel          float64
	MusicLevel          float64
	SFXLevel            float64
	Codec               string
	CRF                 int
	Width               int
	Height              int
	FPS                 int
	FFmpegBin           string
	FFprobeBin          string
	WorkDir             string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// .env for local development; deployed environments set real env vars
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("SCENE_API_KEY")
	readSecret("VOICE_API_KEY")
	readSecret("MUSIC_API_KEY")
	readSecret("SFX_API_KEY")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("storage.local_dir", "STORAGE_LOCAL_DIR")
	_ = viper.BindEnv("scene.api_key", "SCENE_API_KEY")
	_ = viper.BindEnv("scene.base_url", "SCENE_BASE_URL")
	_ = viper.BindEnv("voice.api_key", "VOICE_API_KEY")
	_ = viper.BindEnv("voice.base_url", "VOICE_BASE_URL")
	_ = viper.BindEnv("music.api_key", "MUSIC_API_KEY")
	_ = viper.BindEnv("music.base_url", "MUSIC_BASE_URL")
	_ = viper.BindEnv("sfx.api_key", "SFX_API_KEY")
	_ = viper.BindEnv("sfx.base_url", "SFX_BASE_URL")
	_ = viper.BindEnv("generation.work_dir", "GENERATION_WORK_DIR")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.start_per_hour", 10)
	viper.SetDefault("ratelimit.status_per_min", 120)

	// Provider defaults
	viper.SetDefault("scene.base_url", "https://api.scenegen.dev")
	viper.SetDefault("voice.base_url", "https://api.voicegen.dev")
	viper.SetDefault("music.base_url", "https://api.musicgen.dev")
	viper.SetDefault("sfx.base_url", "https://api.sfxgen.dev")

	// Generation defaults
	viper.SetDefault("generation.poll_interval_seconds", 5)
	viper.SetDefault("generation.scene_timeout_seconds", 300)
	viper.SetDefault("generation.audio_timeout_seconds", 180)
	viper.SetDefault("generation.max_scene_retries", 2)
	viper.SetDefault("generation.max_audio_retries", 2)
	viper.SetDefault("generation.crossfade_seconds", 1.0)
	viper.SetDefault("generation.voice_level", 1.0)
	viper.SetDefault("generation.music_level", 0.3)
	viper.SetDefault("generation.sfx_level", 0.5)
	viper.SetDefault("generation.codec", "libx264")
	viper.SetDefault("generation.crf", 22)
	viper.SetDefault("generation.width", 1920)
	viper.SetDefault("generation.height", 1080)
	viper.SetDefault("generation.fps", 30)
	viper.SetDefault("generation.ffmpeg_bin", "ffmpeg")
	viper.SetDefault("generation.ffprobe_bin", "ffprobe")
	viper.SetDefault("generation.work_dir", os.TempDir())

	// Storage defaults
	viper.SetDefault("storage.local_dir", "./data/assets")

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		RateLimit: RateLimitConfig{
			StartPerHour: viper.GetInt("ratelimit.start_per_hour"),
			StatusPerMin: viper.GetInt("ratelimit.status_per_min"),
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			Endpoint:        viper.GetString("storage.endpoint"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			PublicURL:       viper.GetString("storage.public_url"),
			LocalDir:        viper.GetString("storage.local_dir"),
		},
		Scene: ProviderConfig{
			APIKey:  viper.GetString("scene.api_key"),
			BaseURL: viper.GetString("scene.base_url"),
		},
		Voice: ProviderConfig{
			APIKey:  viper.GetString("voice.api_key"),
			BaseURL: viper.GetString("voice.base_url"),
		},
		Music: ProviderConfig{
			APIKey:  viper.GetString("music.api_key"),
			BaseURL: viper.GetString("music.base_url"),
		},
		SFX: ProviderConfig{
			APIKey:  viper.GetString("sfx.api_key"),
			BaseURL: viper.GetString("sfx.base_url"),
		},
		Generation: GenerationConfig{
			PollIntervalSeconds: viper.GetInt("generation.poll_interval_seconds"),
			SceneTimeoutSeconds: viper.GetInt("generation.scene_timeout_seconds"),
			AudioTimeoutSeconds: viper.GetInt("generation.audio_timeout_seconds"),
			MaxSceneRetries:     viper.GetInt("generation.max_scene_retries"),
			MaxAudioRetries:     viper.GetInt("generation.max_audio_retries"),
			CrossfadeSeconds:    viper.GetFloat64("generation.crossfade_seconds"),
			VoiceLevel:          viper.GetFloat64("generation.voice_level"),
			MusicLevel:          viper.GetFloat64("generation.music_level"),
			SFXLevel:            viper.GetFloat64("generation.sfx_level"),
			Codec:               viper.GetString("generation.codec"),
			CRF:                 viper.GetInt("generation.crf"),
			Width:               viper.GetInt("generation.width"),
			Height:              viper.GetInt("generation.height"),
			FPS:                 viper.GetInt("generation.fps"),
			FFmpegBin:           viper.GetString("generation.ffmpeg_bin"),
			FFprobeBin:          viper.GetString("generation.ffprobe_bin"),
			WorkDir:             viper.GetString("generation.work_dir"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
