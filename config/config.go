package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Stripe struct {
		APIKey           string `mapstructure:"apiKey"`
		WebhookSecret    string `mapstructure:"webhookSecret"`
		ToleranceSeconds int    `mapstructure:"toleranceSeconds"` // Окно допуска таймстампа подписи
		Prices           struct {
			MonthlyCard string `mapstructure:"monthlyCard"`
			AnnualCard  string `mapstructure:"annualCard"`
			MonthlyPix  string `mapstructure:"monthlyPix"`
			AnnualPix   string `mapstructure:"annualPix"`
		} `mapstructure:"prices"`
	} `mapstructure:"stripe"`
	Account struct {
		BaseURL        string `mapstructure:"baseUrl"`
		SharedSecret   string `mapstructure:"sharedSecret"`
		TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
		MaxRetries     int    `mapstructure:"maxRetries"`
	} `mapstructure:"account"`
	Redis struct {
		Addr          string `mapstructure:"addr"`
		Password      string `mapstructure:"password"`
		DB            int    `mapstructure:"db"`
		EventTTLHours int    `mapstructure:"eventTtlHours"` // Срок хранения обработанных event id
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
}

// LoadConfig загружает конфигурацию из файла или переменных окружения.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		err := godotenv.Load(path)
		if err != nil {
			return nil, err
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv() // Чтение переменных окружения

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults подставляет значения по умолчанию для незаполненных полей.
func (c *Config) applyDefaults() {
	if c.Stripe.ToleranceSeconds <= 0 {
		c.Stripe.ToleranceSeconds = 300
	}
	if c.Account.TimeoutSeconds <= 0 {
		c.Account.TimeoutSeconds = 10
	}
	if c.Account.MaxRetries <= 0 {
		c.Account.MaxRetries = 3
	}
	if c.Redis.EventTTLHours <= 0 {
		c.Redis.EventTTLHours = 72
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "subscription_events"
	}
}

// SignatureTolerance возвращает окно допуска подписи как Duration.
func (c *Config) SignatureTolerance() time.Duration {
	return time.Duration(c.Stripe.ToleranceSeconds) * time.Second
}

// AccountTimeout возвращает таймаут запросов к Account Service.
func (c *Config) AccountTimeout() time.Duration {
	return time.Duration(c.Account.TimeoutSeconds) * time.Second
}

// EventRetention возвращает срок хранения обработанных событий.
func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.Redis.EventTTLHours) * time.Hour
}
