package harness

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Host          string        `mapstructure:"host" validate:"required"`
	Port          int           `mapstructure:"port" validate:"min=1,max=65535"`
	Devices       int           `mapstructure:"devices" validate:"min=1"`
	IMEI          string        `mapstructure:"imei" validate:"required,numeric"`
	IMSI          string        `mapstructure:"imsi" validate:"required,numeric"`
	ICCID         string        `mapstructure:"iccid" validate:"required"`
	Version       int           `mapstructure:"version"`
	Vendor        int           `mapstructure:"vendor"`
	Modules       string        `mapstructure:"modules"`
	Heartbeat     int           `mapstructure:"heartbeat" validate:"min=1"`
	Unit          time.Duration `mapstructure:"unit" validate:"gt=0"`
	Stagger       time.Duration `mapstructure:"stagger" validate:"gte=0"`
	Grace         time.Duration `mapstructure:"grace" validate:"gte=0"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`
	Report        string        `mapstructure:"report" validate:"oneof=lbs gps both"`
	InitialReport bool          `mapstructure:"initial_report"`
	NatsURL       string        `mapstructure:"nats_url"`
	NatsPrefix    string        `mapstructure:"nats_prefix"`
	LogLevel      string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 11500)
	v.SetDefault("devices", 1)
	v.SetDefault("imei", "355372020827303")
	v.SetDefault("imsi", "460001515535328")
	v.SetDefault("iccid", "89860113859009347034")
	v.SetDefault("version", 1)
	v.SetDefault("vendor", 20000)
	v.SetDefault("modules", "L0P0")
	v.SetDefault("heartbeat", 160)
	v.SetDefault("unit", time.Second)
	v.SetDefault("stagger", 10*time.Millisecond)
	v.SetDefault("grace", 100*time.Millisecond)
	v.SetDefault("dial_timeout", 10*time.Second)
	v.SetDefault("report", "lbs")
	v.SetDefault("initial_report", true)
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_prefix", "gpsemu")
	v.SetDefault("log_level", "info")
}

// LoadConfig reads defaults, the optional config file and GPSEMU_* environment
// variables, then validates the result.
func LoadConfig(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("GPSEMU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DeviceIMEI returns the imei of device i: the base plus i, keeping the
// width of the base.
func (c *Config) DeviceIMEI(i int) string {
	base, err := strconv.ParseUint(c.IMEI, 10, 64)
	if err != nil {
		return c.IMEI
	}
	return fmt.Sprintf("%0*d", len(c.IMEI), base+uint64(i))
}
