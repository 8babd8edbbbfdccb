package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aws-ec2.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearAWSEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_DEFAULT_PROFILE", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv(ConfigPathEnv, "")
}

func TestInitializeDefaults(t *testing.T) {
	clearAWSEnv(t)

	settings, err := Initialize(filepath.Join(t.TempDir(), "missing.yml"), "")
	require.NoError(t, err)

	assert.Equal(t, []string{"us-east-1", "us-west-1"}, settings.Regions)
	assert.Equal(t, "PrivateDnsName", settings.DestinationVariable)
	assert.Equal(t, "PrivateIpAddress", settings.VPCDestinationVariable)
	assert.Equal(t, []string{"running"}, settings.InstanceStates)
	assert.False(t, settings.EnableCaching)
	assert.Equal(t, "~/.ansible/tmp", settings.CachePath)
	assert.Equal(t, 300, settings.CacheMaxAge)
	assert.True(t, settings.NestedGroups)
	assert.True(t, settings.ReplaceDashInGroups)
	assert.True(t, settings.GroupByRegion)
	assert.True(t, settings.GroupByAvailabilityZone)
	assert.True(t, settings.GroupByTagKeys)
	assert.False(t, settings.GroupByInstanceID)
	assert.False(t, settings.GroupBySecurityGroup)
	assert.Nil(t, settings.PatternInclude)
	assert.Nil(t, settings.PatternExclude)
	assert.Empty(t, settings.Profile)
}

func TestInitializeFromFile(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, `
ec2:
  regions:
    - eu-west-1
  enable_caching: true
  cache_max_age: 60
  nested_groups: false
  group_by_security_group: true
  hostname_variable: tag_Name
  pattern_include: "^web"
  pattern_exclude: "decommissioned"
  instance_filters:
    - name: tag:Environment
      values:
        - production
`)

	settings, err := Initialize(path, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"eu-west-1"}, settings.Regions)
	assert.True(t, settings.EnableCaching)
	assert.Equal(t, 60, settings.CacheMaxAge)
	assert.False(t, settings.NestedGroups)
	assert.True(t, settings.GroupBySecurityGroup)
	assert.Equal(t, "tag_Name", settings.HostnameVariable)

	require.NotNil(t, settings.PatternInclude)
	assert.True(t, settings.PatternInclude.MatchString("web1"))
	require.NotNil(t, settings.PatternExclude)
	assert.True(t, settings.PatternExclude.MatchString("host-decommissioned"))

	require.Len(t, settings.InstanceFilters, 1)
	assert.Equal(t, "tag:Environment", settings.InstanceFilters[0].Name)
	assert.Equal(t, []string{"production"}, settings.InstanceFilters[0].Values)

	// Keys the file leaves out keep their defaults.
	assert.Equal(t, "PrivateDnsName", settings.DestinationVariable)
	assert.True(t, settings.GroupByRegion)
}

func TestInitializeAllInstancesExpandsStates(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, `
ec2:
  all_instances: true
  instance_states:
    - running
`)

	settings, err := Initialize(path, "")
	require.NoError(t, err)
	assert.Equal(t, ValidInstanceStates, settings.InstanceStates)
}

func TestInitializeDropsUnknownStates(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, `
ec2:
  instance_states:
    - running
    - levitating
    - stopped
`)

	settings, err := Initialize(path, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"running", "stopped"}, settings.InstanceStates)
}

func TestInitializeEmptyStatesFallBack(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, `
ec2:
  instance_states:
    - levitating
`)

	settings, err := Initialize(path, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"running"}, settings.InstanceStates)
}

func TestInitializeBadPatternIgnored(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, `
ec2:
  pattern_include: "(["
`)

	settings, err := Initialize(path, "")
	require.NoError(t, err)
	assert.Nil(t, settings.PatternInclude)
}

func TestInitializeMalformedFileKeepsDefaults(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, "ec2: [not: valid: yaml\n")

	settings, err := Initialize(path, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1", "us-west-1"}, settings.Regions)
	assert.Equal(t, []string{"running"}, settings.InstanceStates)
}

func TestInitializeConfigFileFromEnv(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, `
ec2:
  regions:
    - ap-southeast-2
`)
	t.Setenv(ConfigPathEnv, path)

	settings, err := Initialize("", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ap-southeast-2"}, settings.Regions)
}

func TestInitializeProfilePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		profileArg string
		envProfile string
		fileValue  string
		expected   string
	}{
		{name: "flag wins", profileArg: "flag-profile", envProfile: "env-profile", fileValue: "file-profile", expected: "flag-profile"},
		{name: "env beats file", envProfile: "env-profile", fileValue: "file-profile", expected: "env-profile"},
		{name: "file as last resort", fileValue: "file-profile", expected: "file-profile"},
		{name: "unset", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearAWSEnv(t)
			if tt.envProfile != "" {
				t.Setenv("AWS_PROFILE", tt.envProfile)
			}

			content := "ec2:\n  regions:\n    - us-east-1\n"
			if tt.fileValue != "" {
				content += "  profile: " + tt.fileValue + "\n"
			}
			path := writeConfig(t, content)

			settings, err := Initialize(path, tt.profileArg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, settings.Profile)
		})
	}
}

func TestInitializeStaticCredentials(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, `
ec2:
  regions:
    - us-east-1
credentials:
  aws_access_key_id: AKIAEXAMPLE
  aws_secret_access_key: secret
  aws_security_token: token
`)

	settings, err := Initialize(path, "")
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", settings.Credentials.AccessKeyID)
	assert.Equal(t, "secret", settings.Credentials.SecretAccessKey)
	assert.Equal(t, "token", settings.Credentials.SecurityToken)
}

func TestInitializeCredentialsIgnoredWithProfile(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, `
ec2:
  regions:
    - us-east-1
credentials:
  aws_access_key_id: AKIAEXAMPLE
  aws_secret_access_key: secret
`)

	settings, err := Initialize(path, "some-profile")
	require.NoError(t, err)
	assert.Empty(t, settings.Credentials.AccessKeyID)
}

func TestInitializeInvalidCacheMaxAge(t *testing.T) {
	clearAWSEnv(t)

	path := writeConfig(t, `
ec2:
  cache_max_age: -5
`)

	settings, err := Initialize(path, "")
	require.NoError(t, err)
	assert.Equal(t, 300, settings.CacheMaxAge)
}
