package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

const envPrefix = "KINSYNC_"

type Application struct {
	Host     string   `koanf:"host"`
	Server   Server   `koanf:"server"`
	Google   Google   `koanf:"google"`
	Database Database `koanf:"db"`
	Sync     Sync     `koanf:"sync"`
	Custody  Custody  `koanf:"custody"`
}

type Server struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
}

type Google struct {
	ClientId     string `koanf:"clientid"`
	ClientSecret string `koanf:"clientsecret"`
}

type Database struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name"`
	Schema string `koanf:"schema"`
}

// Sync controls external calendar synchronization passes.
type Sync struct {
	// Cron is the schedule of periodic passes. Empty disables the scheduler.
	Cron                 string        `koanf:"cron"`
	Workers              int           `koanf:"workers"`
	CallTimeout          time.Duration `koanf:"calltimeout"`
	PassTimeout          time.Duration `koanf:"passtimeout"`
	MaxRetries           int           `koanf:"maxretries"`
	RetryInitialInterval time.Duration `koanf:"retryinitialinterval"`
	RetryMaxInterval     time.Duration `koanf:"retrymaxinterval"`
	// PastDays bounds how far back events are pushed and pulled when no sync token is available.
	PastDays           int           `koanf:"pastdays"`
	TokenRefreshMargin time.Duration `koanf:"tokenrefreshmargin"`
}

type Custody struct {
	MaterializeDays int `koanf:"materializedays"`
}

func Defaults() Application {
	return Application{
		Host: "http://localhost:3000",
		Server: Server{
			Port:            8181,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			Host:   "localhost",
			Port:   5432,
			User:   "kinsync",
			Pass:   "",
			Name:   "kinsync",
			Schema: "kinsync",
		},
		Sync: Sync{
			Cron:                 "*/15 * * * *",
			Workers:              4,
			CallTimeout:          10 * time.Second,
			PassTimeout:          5 * time.Minute,
			MaxRetries:           4,
			RetryInitialInterval: 500 * time.Millisecond,
			RetryMaxInterval:     10 * time.Second,
			PastDays:             30,
			TokenRefreshMargin:   2 * time.Minute,
		},
		Custody: Custody{
			MaterializeDays: 90,
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	return app, nil
}
