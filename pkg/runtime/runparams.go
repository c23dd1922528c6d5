package runtime

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

const (
	EnvTestBranch             = "TEST_BRANCH"
	EnvTestCase               = "TEST_CASE"
	EnvTestGroupID            = "TEST_GROUP_ID"
	EnvTestGroupInstanceCount = "TEST_GROUP_INSTANCE_COUNT"
	EnvTestInstanceCount      = "TEST_INSTANCE_COUNT"
	EnvTestInstanceParams     = "TEST_INSTANCE_PARAMS"
	EnvTestInstanceRole       = "TEST_INSTANCE_ROLE"
	EnvTestOutputsPath        = "TEST_OUTPUTS_PATH"
	EnvTestPlan               = "TEST_PLAN"
	EnvTestRepo               = "TEST_REPO"
	EnvTestRun                = "TEST_RUN"
	EnvTestSidecar            = "TEST_SIDECAR"
	EnvTestStartTime          = "TEST_START_TIME"
	EnvTestSubnet             = "TEST_SUBNET"
	EnvTestTag                = "TEST_TAG"
	EnvTestCaptureProfiles    = "TEST_CAPTURE_PROFILES"
	EnvTestTempPath           = "TEST_TEMP_PATH"
	EnvLogLevel               = "LOG_LEVEL"
)

const (
	ValidatorGroup = "validators"
	FullnodeGroup  = "fullnodes"
)

// ErrInvalidParams is wrapped by every error returned while parsing run
// parameters from the environment.
var ErrInvalidParams = errors.New("invalid run parameters")

// RunParams is the configuration of one test instance, as handed over by the
// runner through environment variables. It is immutable once parsed.
type RunParams struct {
	TestBranch             string            `mapstructure:"TEST_BRANCH" json:"test_branch,omitempty"`
	TestCase               string            `mapstructure:"TEST_CASE" json:"test_case"`
	TestGroupID            string            `mapstructure:"TEST_GROUP_ID" json:"test_group_id"`
	TestGroupInstanceCount int               `mapstructure:"TEST_GROUP_INSTANCE_COUNT" json:"test_group_instance_count" validate:"gte=0,ltefield=TestInstanceCount"`
	TestInstanceCount      int               `mapstructure:"TEST_INSTANCE_COUNT" json:"test_instance_count" validate:"gte=0"`
	TestInstanceParams     map[string]string `mapstructure:"TEST_INSTANCE_PARAMS" json:"test_instance_params,omitempty"`
	TestInstanceRole       string            `mapstructure:"TEST_INSTANCE_ROLE" json:"test_instance_role,omitempty"`
	TestOutputsPath        string            `mapstructure:"TEST_OUTPUTS_PATH" json:"test_outputs_path,omitempty"`
	TestPlan               string            `mapstructure:"TEST_PLAN" json:"test_plan"`
	TestRepo               string            `mapstructure:"TEST_REPO" json:"test_repo,omitempty"`
	TestRun                string            `mapstructure:"TEST_RUN" json:"test_run"`
	TestSidecar            bool              `mapstructure:"TEST_SIDECAR" json:"test_sidecar,omitempty"`
	TestStartTime          time.Time         `mapstructure:"TEST_START_TIME" json:"test_start_time"`
	TestSubnet             net.IPNet         `mapstructure:"TEST_SUBNET" json:"test_subnet"`
	TestTag                string            `mapstructure:"TEST_TAG" json:"test_tag,omitempty"`
	TestCaptureProfiles    string            `mapstructure:"TEST_CAPTURE_PROFILES" json:"test_capture_profiles,omitempty"`
	TestTempPath           string            `mapstructure:"TEST_TEMP_PATH" json:"test_temp_path,omitempty"`
	LogLevel               string            `mapstructure:"LOG_LEVEL" json:"log_level,omitempty"`
}

var validate = validator.New()

// CurrentRunParams parses the run parameters from the environment of this
// process.
func CurrentRunParams() (*RunParams, error) {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return ParseRunParams(env)
}

// ParseRunParams builds RunParams from a map of environment variables.
// Variables that are absent or empty leave the field at its zero value;
// malformed values are rejected.
func ParseRunParams(env map[string]string) (*RunParams, error) {
	input := make(map[string]interface{}, len(env))
	for k, v := range env {
		if v == "" {
			continue
		}
		input[k] = v
	}

	var rp RunParams
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rp,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			stringToIPNetHook,
			stringToParamsHook,
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(input); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	if err := validate.Struct(&rp); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	return &rp, nil
}

// ToEnvVars is the inverse of ParseRunParams.
func (rp *RunParams) ToEnvVars() map[string]string {
	out := map[string]string{
		EnvTestBranch:             rp.TestBranch,
		EnvTestCase:               rp.TestCase,
		EnvTestGroupID:            rp.TestGroupID,
		EnvTestGroupInstanceCount: strconv.Itoa(rp.TestGroupInstanceCount),
		EnvTestInstanceCount:      strconv.Itoa(rp.TestInstanceCount),
		EnvTestInstanceParams:     packParams(rp.TestInstanceParams),
		EnvTestInstanceRole:       rp.TestInstanceRole,
		EnvTestOutputsPath:        rp.TestOutputsPath,
		EnvTestPlan:               rp.TestPlan,
		EnvTestRepo:               rp.TestRepo,
		EnvTestRun:                rp.TestRun,
		EnvTestSidecar:            strconv.FormatBool(rp.TestSidecar),
		EnvTestTag:                rp.TestTag,
		EnvTestCaptureProfiles:    rp.TestCaptureProfiles,
		EnvTestTempPath:           rp.TestTempPath,
		EnvLogLevel:               rp.LogLevel,
	}
	if !rp.TestStartTime.IsZero() {
		out[EnvTestStartTime] = rp.TestStartTime.Format(time.RFC3339Nano)
	}
	if rp.TestSubnet.IP != nil {
		out[EnvTestSubnet] = rp.TestSubnet.String()
	}
	return out
}

func packParams(in map[string]string) string {
	arr := make([]string, 0, len(in))
	for k, v := range in {
		arr = append(arr, k+"="+v)
	}
	sort.Strings(arr)
	return strings.Join(arr, "|")
}

func unpackParams(packed string) (map[string]string, error) {
	params := make(map[string]string)
	for _, s := range strings.Split(packed, "|") {
		if s == "" {
			continue
		}
		v := strings.SplitN(s, "=", 2)
		if len(v) != 2 || v[0] == "" {
			return nil, fmt.Errorf("malformed instance parameter %q", s)
		}
		params[v[0]] = v[1]
	}
	return params, nil
}

func stringToIPNetHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(net.IPNet{}) {
		return data, nil
	}
	_, n, err := net.ParseCIDR(data.(string))
	if err != nil {
		return nil, err
	}
	return *n, nil
}

func stringToParamsHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(map[string]string{}) {
		return data, nil
	}
	return unpackParams(data.(string))
}
