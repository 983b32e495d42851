package configuration

import (
	goflag "flag"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const envPrefix = "ledger"

type Params struct {
	// For go flags compatibility
	GoFlags *goflag.FlagSet
	// For spf13/pflags compatibility
	PFlags     *flag.FlagSet
	ViperHooks []mapstructure.DecodeHookFunc
}

// Load builds the configuration from Default, an optional yaml file given
// by --config, and LEDGER_* environment variables, in that order of
// precedence (lowest to highest).
func Load(params Params) (*Configuration, error) {
	if params.GoFlags != nil {
		flag.CommandLine.AddGoFlagSet(params.GoFlags)
	}
	if params.PFlags != nil {
		flag.CommandLine.AddFlagSet(params.PFlags)
	}
	var configPath = flag.String("config", "", "path to config")
	flag.Parse()

	return load(params, *configPath)
}

func load(params Params, path string) (*Configuration, error) {
	v := viper.New()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	actual := Default()
	for _, name := range deepFieldNames(*actual, "") {
		if err := v.BindEnv(name); err != nil {
			return nil, errors.Wrap(err, "failed to bind env")
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to load config")
		}
	}

	params.ViperHooks = append(params.ViperHooks, mapstructure.StringToTimeDurationHookFunc(), mapstructure.StringToSliceHookFunc(","))
	err := v.Unmarshal(actual, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		params.ViperHooks...,
	)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config file into configuration structure")
	}
	return actual, nil
}

func deepFieldNames(iface interface{}, prefix string) []string {
	names := make([]string, 0)
	ifv := reflect.ValueOf(iface)

	for i := 0; i < ifv.NumField(); i++ {
		v := ifv.Field(i)

		switch v.Kind() {
		case reflect.Struct:
			subPrefix := ""
			if prefix != "" {
				subPrefix = prefix + "."
			}
			names = append(names, deepFieldNames(v.Interface(), subPrefix+ifv.Type().Field(i).Name)...)
		default:
			name := ifv.Type().Field(i).Name
			if prefix != "" {
				name = prefix + "." + name
			}
			names = append(names, name)
		}
	}

	return names
}

// todo clean db password before printing
func PrintConfig(log *logrus.Logger, c *Configuration) {
	out, err := yaml.Marshal(c)
	if err != nil {
		log.Error(errors.Wrapf(err, "failed to marshal config structure"))
		return
	}
	log.Infof("Loaded configuration: \n %s \n", string(out))
}
