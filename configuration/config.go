package configuration

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ec2inventory/errors"
)

const (
	packageName = "configuration"

	// DefaultConfigName is the config file looked up next to the
	// executable when neither --config-file nor EC2_YML_PATH is set.
	DefaultConfigName = "aws-ec2.yml"

	// ConfigPathEnv overrides the config file location.
	ConfigPathEnv = "EC2_YML_PATH"
)

// ValidInstanceStates are the lifecycle states EC2 reports.
var ValidInstanceStates = []string{
	"pending",
	"running",
	"shutting-down",
	"terminated",
	"stopping",
	"stopped",
}

// InstanceFilter is a provider-native DescribeInstances filter,
// passed through verbatim.
type InstanceFilter struct {
	Name   string   `mapstructure:"name"`
	Values []string `mapstructure:"values"`
}

// Credentials holds static AWS credentials read from the config file.
// Only used when no profile and no ambient env credentials are present.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SecurityToken   string
}

// Settings holds the resolved inventory configuration
type Settings struct {
	Regions                []string
	DestinationVariable    string
	VPCDestinationVariable string
	AllInstances           bool
	InstanceStates         []string

	EnableCaching bool
	CachePath     string
	CacheMaxAge   int

	NestedGroups        bool
	ReplaceDashInGroups bool

	GroupByInstanceID       bool
	GroupByRegion           bool
	GroupByAvailabilityZone bool
	GroupByAWSAccount       bool
	GroupByAMIID            bool
	GroupByInstanceType     bool
	GroupByInstanceState    bool
	GroupByPlatform         bool
	GroupByKeyPair          bool
	GroupByVPCID            bool
	GroupBySecurityGroup    bool
	GroupByTagKeys          bool
	GroupByTagNone          bool

	InstanceFilters       []InstanceFilter
	DestinationFormat     string
	DestinationFormatTags []string
	HostnameVariable      string
	PatternInclude        *regexp.Regexp
	PatternExclude        *regexp.Regexp
	IAMAssumeRole         string
	Profile               string

	Credentials Credentials

	LogLevel string
}

// setDefaults seeds viper with the built-in configuration used when no
// config file is found, or for keys the file leaves out.
func setDefaults(v *viper.Viper) {
	v.SetDefault("ec2.regions", []string{"us-east-1", "us-west-1"})
	v.SetDefault("ec2.destination_variable", "PrivateDnsName")
	v.SetDefault("ec2.vpc_destination_variable", "PrivateIpAddress")
	v.SetDefault("ec2.all_instances", false)
	v.SetDefault("ec2.instance_states", []string{"running"})
	v.SetDefault("ec2.enable_caching", false)
	v.SetDefault("ec2.cache_path", "~/.ansible/tmp")
	v.SetDefault("ec2.cache_max_age", 300)
	v.SetDefault("ec2.nested_groups", true)
	v.SetDefault("ec2.replace_dash_in_groups", true)
	v.SetDefault("ec2.group_by_instance_id", false)
	v.SetDefault("ec2.group_by_region", true)
	v.SetDefault("ec2.group_by_availability_zone", true)
	v.SetDefault("ec2.group_by_aws_account", true)
	v.SetDefault("ec2.group_by_ami_id", true)
	v.SetDefault("ec2.group_by_instance_type", true)
	v.SetDefault("ec2.group_by_instance_state", false)
	v.SetDefault("ec2.group_by_platform", true)
	v.SetDefault("ec2.group_by_key_pair", false)
	v.SetDefault("ec2.group_by_vpc_id", true)
	v.SetDefault("ec2.group_by_security_group", false)
	v.SetDefault("ec2.group_by_tag_keys", true)
	v.SetDefault("ec2.group_by_tag_none", true)
	v.SetDefault("log_level", "info")
}

// resolveConfigFile picks the config file path: the --config-file
// argument wins, then the EC2_YML_PATH environment variable, then
// aws-ec2.yml alongside the executable.
func resolveConfigFile(configFile string) string {
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err == nil {
			return abs
		}
		return configFile
	}
	if envPath := os.Getenv(ConfigPathEnv); envPath != "" {
		abs, err := filepath.Abs(envPath)
		if err == nil {
			return abs
		}
		return envPath
	}
	exe, err := os.Executable()
	if err != nil {
		return DefaultConfigName
	}
	return filepath.Join(filepath.Dir(exe), DefaultConfigName)
}

// Initialize loads the settings. Config file parsing is best effort:
// a missing or malformed file is reported and the defaults already
// loaded stay in effect. profileArg is the --profile CLI value and
// takes precedence over the environment and the config file.
func Initialize(configFile, profileArg string) (*Settings, error) {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "Initialize"),
	)

	v := viper.New()
	setDefaults(v)

	path := resolveConfigFile(configFile)
	if info, err := os.Stat(path); err == nil && !info.IsDir() && strings.HasSuffix(path, ".yml") {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			logger.Error("Failed to parse config file, continuing with defaults",
				zap.String("operation", "config_loading"),
				zap.String("config_file", path),
				zap.Error(errors.New(errors.ErrConfigParse, "error reading config file",
					map[string]interface{}{
						"config_file": path,
					}, err)),
			)
		} else {
			logger.Info("Configuration file loaded",
				zap.String("operation", "config_loading"),
				zap.String("config_file", path),
			)
		}
	} else {
		logger.Info("No config file found, using defaults",
			zap.String("operation", "config_loading"),
			zap.String("config_file", path),
		)
	}

	settings := &Settings{
		Regions:                 v.GetStringSlice("ec2.regions"),
		DestinationVariable:     v.GetString("ec2.destination_variable"),
		VPCDestinationVariable:  v.GetString("ec2.vpc_destination_variable"),
		AllInstances:            v.GetBool("ec2.all_instances"),
		EnableCaching:           v.GetBool("ec2.enable_caching"),
		CachePath:               v.GetString("ec2.cache_path"),
		CacheMaxAge:             v.GetInt("ec2.cache_max_age"),
		NestedGroups:            v.GetBool("ec2.nested_groups"),
		ReplaceDashInGroups:     v.GetBool("ec2.replace_dash_in_groups"),
		GroupByInstanceID:       v.GetBool("ec2.group_by_instance_id"),
		GroupByRegion:           v.GetBool("ec2.group_by_region"),
		GroupByAvailabilityZone: v.GetBool("ec2.group_by_availability_zone"),
		GroupByAWSAccount:       v.GetBool("ec2.group_by_aws_account"),
		GroupByAMIID:            v.GetBool("ec2.group_by_ami_id"),
		GroupByInstanceType:     v.GetBool("ec2.group_by_instance_type"),
		GroupByInstanceState:    v.GetBool("ec2.group_by_instance_state"),
		GroupByPlatform:         v.GetBool("ec2.group_by_platform"),
		GroupByKeyPair:          v.GetBool("ec2.group_by_key_pair"),
		GroupByVPCID:            v.GetBool("ec2.group_by_vpc_id"),
		GroupBySecurityGroup:    v.GetBool("ec2.group_by_security_group"),
		GroupByTagKeys:          v.GetBool("ec2.group_by_tag_keys"),
		GroupByTagNone:          v.GetBool("ec2.group_by_tag_none"),
		DestinationFormat:       v.GetString("ec2.destination_format"),
		DestinationFormatTags:   v.GetStringSlice("ec2.destination_format_tags"),
		HostnameVariable:        v.GetString("ec2.hostname_variable"),
		IAMAssumeRole:           v.GetString("ec2.iam_assume_role"),
		LogLevel:                v.GetString("log_level"),
	}

	if len(settings.Regions) == 0 {
		logger.Warn("No regions configured, falling back to defaults",
			zap.String("operation", "config_validation"),
			zap.String("config_key", "ec2.regions"),
		)
		settings.Regions = []string{"us-east-1", "us-west-1"}
	}

	if settings.CacheMaxAge <= 0 {
		logger.Warn("Invalid cache_max_age, falling back to default",
			zap.String("operation", "config_validation"),
			zap.String("config_key", "ec2.cache_max_age"),
			zap.Int("value", settings.CacheMaxAge),
		)
		settings.CacheMaxAge = 300
	}

	settings.InstanceStates = resolveInstanceStates(v, settings.AllInstances, logger)

	if err := v.UnmarshalKey("ec2.instance_filters", &settings.InstanceFilters); err != nil {
		logger.Error("Failed to decode instance_filters, ignoring",
			zap.String("operation", "config_validation"),
			zap.String("config_key", "ec2.instance_filters"),
			zap.Error(err),
		)
		settings.InstanceFilters = nil
	}

	settings.PatternInclude = compilePattern(v.GetString("ec2.pattern_include"), "ec2.pattern_include", logger)
	settings.PatternExclude = compilePattern(v.GetString("ec2.pattern_exclude"), "ec2.pattern_exclude", logger)

	settings.Profile = resolveProfile(profileArg, v)

	// Static credentials from the config file are a last resort: a
	// profile or ambient env credentials always win.
	if settings.Profile == "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_PROFILE") == "" {
		settings.Credentials = Credentials{
			AccessKeyID:     v.GetString("credentials.aws_access_key_id"),
			SecretAccessKey: v.GetString("credentials.aws_secret_access_key"),
			SecurityToken:   v.GetString("credentials.aws_security_token"),
		}
	}

	logger.Info("Configuration loaded successfully",
		zap.String("operation", "config_complete"),
		zap.Strings("regions", settings.Regions),
		zap.Strings("instance_states", settings.InstanceStates),
		zap.Bool("caching", settings.EnableCaching),
	)
	return settings, nil
}

// resolveInstanceStates applies the all_instances override and drops
// states EC2 does not know about.
func resolveInstanceStates(v *viper.Viper, allInstances bool, logger *zap.Logger) []string {
	if allInstances {
		states := make([]string, len(ValidInstanceStates))
		copy(states, ValidInstanceStates)
		return states
	}

	configured := v.GetStringSlice("ec2.instance_states")
	states := make([]string, 0, len(configured))
	for _, state := range configured {
		if !isValidState(state) {
			logger.Warn("Dropping unknown instance state",
				zap.String("operation", "config_validation"),
				zap.String("config_key", "ec2.instance_states"),
				zap.String("state", state),
			)
			continue
		}
		states = append(states, state)
	}
	if len(states) == 0 {
		states = []string{"running"}
	}
	return states
}

func isValidState(state string) bool {
	for _, valid := range ValidInstanceStates {
		if state == valid {
			return true
		}
	}
	return false
}

// compilePattern compiles an include/exclude regex. A malformed
// pattern is a config error and the pattern is ignored for the run.
func compilePattern(pattern, key string, logger *zap.Logger) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("Failed to compile pattern, ignoring",
			zap.String("operation", "config_validation"),
			zap.String("config_key", key),
			zap.Error(errors.New(errors.ErrConfigInvalid, "invalid pattern",
				map[string]interface{}{
					"config_key": key,
					"pattern":    pattern,
				}, err)),
		)
		return nil
	}
	return re
}

// resolveProfile picks the shared-config profile: CLI argument, then
// environment, then config file.
func resolveProfile(profileArg string, v *viper.Viper) string {
	if profileArg != "" {
		return profileArg
	}
	if profile := strings.TrimSpace(os.Getenv("AWS_PROFILE")); profile != "" {
		return profile
	}
	if profile := strings.TrimSpace(os.Getenv("AWS_DEFAULT_PROFILE")); profile != "" {
		return profile
	}
	return v.GetString("ec2.profile")
}
