package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Port string

	DatabaseDriver string // postgres | sqlite
	DatabaseURL    string

	// AuthMode selects how the acting player is identified: "gateway" trusts
	// X-User-ID behind the gateway token, "jwt" validates a player session token.
	AuthMode     string
	GatewayToken string
	JWTSecret    string

	RedisAddr           string
	RedisPassword       string
	NotificationChannel string

	MembershipServiceURL   string
	MembershipServiceToken string

	AdminPlayerIDs []string

	R2 R2Config

	Rating     RatingConfig     `yaml:"rating"`
	Validation ValidationConfig `yaml:"validation"`
	Decay      DecayConfig      `yaml:"decay"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
}

// R2Config holds Cloudflare R2 credentials for sweep report archiving
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

// RatingConfig tunes the rating engine
type RatingConfig struct {
	InitialRating int     `yaml:"initial_rating"`
	MinRating     int     `yaml:"min_rating"`
	KFactor       float64 `yaml:"k_factor"`

	UpsetThreshold int `yaml:"upset_threshold"`

	NewOpponentBonus      float64 `yaml:"new_opponent_bonus"`
	UpsetBonus            float64 `yaml:"upset_bonus"`
	RepetitionPenalty     float64 `yaml:"repetition_penalty"`
	DiversityBonus        float64 `yaml:"diversity_bonus"`
	DiversityMinOpponents int     `yaml:"diversity_min_opponents"`

	NoveltyWindowDays    int `yaml:"novelty_window_days"`
	RepetitionWindowDays int `yaml:"repetition_window_days"`
	DiversityWindowDays  int `yaml:"diversity_window_days"`

	FormatWeights map[string]float64 `yaml:"format_weights"`
}

// ValidationConfig tunes the result validation workflow
type ValidationConfig struct {
	AutoValidateHours        int `yaml:"auto_validate_hours"`
	ReminderAfterHours       int `yaml:"reminder_after_hours"`
	ContestationWindowDays   int `yaml:"contestation_window_days"`
	MaxContestationsPerMonth int `yaml:"max_contestations_per_month"`
	PlayedAtMaxAgeDays       int `yaml:"played_at_max_age_days"`
}

// DecayConfig tunes the inactivity decay
type DecayConfig struct {
	InactivityDaysThreshold int `yaml:"inactivity_days_threshold"`
	PerDayDecay             int `yaml:"per_day_decay"`
	MaxInactivityDecay      int `yaml:"max_inactivity_decay"`
}

// ScheduleConfig controls the background sweeps
type ScheduleConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	DecayAt       string        `yaml:"decay_at"` // HH:MM, UTC
	BatchSize     int           `yaml:"batch_size"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Port:                "5200",
		DatabaseDriver:      "postgres",
		AuthMode:            "gateway",
		NotificationChannel: "notifications",
		Rating:              DefaultRating(),
		Validation: ValidationConfig{
			AutoValidateHours:        24,
			ReminderAfterHours:       6,
			ContestationWindowDays:   7,
			MaxContestationsPerMonth: 3,
			PlayedAtMaxAgeDays:       180,
		},
		Decay: DecayConfig{
			InactivityDaysThreshold: 14,
			PerDayDecay:             2,
			MaxInactivityDecay:      100,
		},
		Schedule: ScheduleConfig{
			SweepInterval: 15 * time.Minute,
			DecayAt:       "03:00",
			BatchSize:     500,
		},
	}
}

// DefaultRating holds the reference coefficients of the rating engine.
func DefaultRating() RatingConfig {
	return RatingConfig{
		InitialRating:         1200,
		MinRating:             100,
		KFactor:               32,
		UpsetThreshold:        100,
		NewOpponentBonus:      0.15,
		UpsetBonus:            0.20,
		RepetitionPenalty:     0.05,
		DiversityBonus:        0.10,
		DiversityMinOpponents: 3,
		NoveltyWindowDays:     90,
		RepetitionWindowDays:  30,
		DiversityWindowDays:   7,
		FormatWeights: map[string]float64{
			"three_sets":              1.0,
			"two_sets_super_tiebreak": 0.85,
			"two_sets":                0.8,
			"one_set":                 0.5,
			"super_tiebreak":          0.3,
		},
	}
}

// Load reads .env (if present), then the environment, then the optional YAML
// tuning file named by RATING_CONFIG_FILE.
func Load(envFile string) (*Config, error) {
	var err error
	if envFile != "" {
		err = godotenv.Load(envFile)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := Defaults()
	cfg.Port = envString("PORT", cfg.Port)
	cfg.DatabaseDriver = strings.ToLower(envString("DATABASE_DRIVER", cfg.DatabaseDriver))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.AuthMode = strings.ToLower(envString("AUTH_MODE", cfg.AuthMode))
	cfg.GatewayToken = os.Getenv("GAME_SERVICE_TOKEN")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.NotificationChannel = envString("NOTIFICATION_CHANNEL", cfg.NotificationChannel)
	cfg.MembershipServiceURL = os.Getenv("MEMBERSHIP_SERVICE_URL")
	cfg.MembershipServiceToken = envString("MEMBERSHIP_SERVICE_TOKEN", cfg.GatewayToken)
	cfg.AdminPlayerIDs = splitList(os.Getenv("ADMIN_PLAYER_IDS"))
	cfg.R2 = R2Config{
		AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		Bucket:          os.Getenv("R2_BUCKET_NAME"),
	}

	if path := os.Getenv("RATING_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyFile overlays the YAML tuning file on top of the current values.
// Keys missing from the file keep their current value.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	return c.ApplyYAML(data)
}

// ApplyYAML overlays a YAML document on the tunable sections.
func (c *Config) ApplyYAML(data []byte) error {
	weights := c.Rating.FormatWeights
	doc := struct {
		Rating     *RatingConfig     `yaml:"rating"`
		Validation *ValidationConfig `yaml:"validation"`
		Decay      *DecayConfig      `yaml:"decay"`
		Schedule   *ScheduleConfig   `yaml:"schedule"`
	}{&c.Rating, &c.Validation, &c.Decay, &c.Schedule}

	c.Rating.FormatWeights = nil
	if err := yaml.Unmarshal(data, &doc); err != nil {
		c.Rating.FormatWeights = weights
		return fmt.Errorf("parsing config file: %w", err)
	}

	// a partial weight table only overrides the formats it names
	merged := make(map[string]float64, len(weights))
	for k, v := range weights {
		merged[k] = v
	}
	for k, v := range c.Rating.FormatWeights {
		merged[k] = v
	}
	c.Rating.FormatWeights = merged
	return nil
}

func (c *Config) applyEnvOverrides() error {
	ints := []struct {
		key string
		dst *int
	}{
		{"INITIAL_RATING", &c.Rating.InitialRating},
		{"MIN_RATING", &c.Rating.MinRating},
		{"UPSET_THRESHOLD", &c.Rating.UpsetThreshold},
		{"AUTO_VALIDATE_HOURS", &c.Validation.AutoValidateHours},
		{"REMINDER_AFTER_HOURS", &c.Validation.ReminderAfterHours},
		{"CONTESTATION_WINDOW_DAYS", &c.Validation.ContestationWindowDays},
		{"MAX_CONTESTATIONS_PER_MONTH", &c.Validation.MaxContestationsPerMonth},
		{"PLAYED_AT_MAX_AGE_DAYS", &c.Validation.PlayedAtMaxAgeDays},
		{"INACTIVITY_DAYS_THRESHOLD", &c.Decay.InactivityDaysThreshold},
		{"PER_DAY_DECAY", &c.Decay.PerDayDecay},
		{"MAX_INACTIVITY_DECAY", &c.Decay.MaxInactivityDecay},
		{"SWEEP_BATCH_SIZE", &c.Schedule.BatchSize},
	}
	for _, it := range ints {
		raw := os.Getenv(it.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", it.key, raw, err)
		}
		*it.dst = v
	}

	if raw := os.Getenv("K_FACTOR"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid K_FACTOR=%q: %w", raw, err)
		}
		c.Rating.KFactor = v
	}
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid SWEEP_INTERVAL=%q: %w", raw, err)
		}
		c.Schedule.SweepInterval = d
	}
	c.Schedule.DecayAt = envString("DECAY_AT", c.Schedule.DecayAt)
	return nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	switch c.AuthMode {
	case "gateway", "jwt":
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode)
	}
	if c.Rating.MinRating <= 0 || c.Rating.InitialRating < c.Rating.MinRating {
		return fmt.Errorf("initial rating %d must be >= min rating %d > 0", c.Rating.InitialRating, c.Rating.MinRating)
	}
	if c.Rating.KFactor <= 0 {
		return fmt.Errorf("k_factor must be positive")
	}
	if c.Validation.AutoValidateHours <= 0 || c.Validation.ReminderAfterHours <= 0 {
		return fmt.Errorf("auto_validate_hours and reminder_after_hours must be positive")
	}
	if c.Validation.ReminderAfterHours >= c.Validation.AutoValidateHours {
		return fmt.Errorf("reminder (%dh) must fire before auto-validation (%dh)",
			c.Validation.ReminderAfterHours, c.Validation.AutoValidateHours)
	}
	if _, _, err := c.Schedule.DecayClock(); err != nil {
		return err
	}
	if c.Schedule.BatchSize <= 0 {
		c.Schedule.BatchSize = 500
	}
	if c.Schedule.SweepInterval <= 0 {
		c.Schedule.SweepInterval = 15 * time.Minute
	}
	return nil
}

// DecayClock parses DecayAt into hour and minute.
func (s ScheduleConfig) DecayClock() (uint, uint, error) {
	t, err := time.Parse("15:04", s.DecayAt)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid decay_at %q (want HH:MM): %w", s.DecayAt, err)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
