package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config/config.yaml"

type Config struct {
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
	Log    LogConfig    `yaml:"log"`
	Result ResultConfig `yaml:"result"`
	Redis  RedisConfig  `yaml:"redis"`
	Backup BackupConfig `yaml:"backup"`
	Export ExportConfig `yaml:"export"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DBConfig struct {
	// Path 是 SQLite 数据库文件路径，默认 ~/pyerm/experiment.db
	Path string `yaml:"path"`
	// SQLLogLevel 控制 gorm 日志级别: silent|error|warn|info
	SQLLogLevel string `yaml:"sql_log_level"`
}

type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

type ResultConfig struct {
	// DefaultImageSlots 是新建结果表时预留的图片槽位数
	DefaultImageSlots int `yaml:"default_image_slots"`
}

type RedisConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type BackupConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	PrivateKeyPath string `yaml:"private_key_path"`
	RemoteDir      string `yaml:"remote_dir"`
}

type ExportConfig struct {
	Workers int `yaml:"workers"`
}

var AppConfig *Config

// InitConfig 读取默认位置的配置文件；文件不存在时使用默认配置。
func InitConfig() error {
	cfg, err := LoadConfig(defaultConfigPath)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// LoadConfig 从指定路径加载配置，path 为空或文件不存在时返回默认配置。
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("unmarshal config failed: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config file failed: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default 返回全部取默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		c.DB.Path = filepath.Join(HomeDir(), "experiment.db")
	}
	if c.DB.SQLLogLevel == "" {
		c.DB.SQLLogLevel = "warn"
	}
	if strings.TrimSpace(c.Log.Path) == "" {
		c.Log.Path = filepath.Join(HomeDir(), "logs", "pyerm.log")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Result.DefaultImageSlots < 0 {
		c.Result.DefaultImageSlots = 0
	} else if c.Result.DefaultImageSlots == 0 {
		c.Result.DefaultImageSlots = 2
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.TTLSeconds <= 0 {
		c.Redis.TTLSeconds = 600
	}
	if c.Backup.Port == 0 {
		c.Backup.Port = 22
	}
	if c.Export.Workers <= 0 {
		c.Export.Workers = 4
	}
}

// HomeDir 返回 pyerm 的工作目录 ~/pyerm。
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pyerm"
	}
	return filepath.Join(home, "pyerm")
}

// Current 返回已加载的配置，未加载时返回默认配置。
func Current() *Config {
	if AppConfig == nil {
		return Default()
	}
	return AppConfig
}
