// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package config

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pbnjay/memory"
	"github.com/spf13/viper"
	"github.com/thefifthdev/stellarforge/build"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/deploy"
	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/thefifthdev/stellarforge/executor"
	"github.com/thefifthdev/stellarforge/network"
	"github.com/thefifthdev/stellarforge/records"
	"github.com/thefifthdev/stellarforge/verify"
)

// EnvPrefix is the prefix of environment variables overriding settings,
// e.g. STELLARFORGE_DEVNET_RETENTION for devnet.retention.
const EnvPrefix = "STELLARFORGE"

// Setting keys.
const (
	DataDirKey  = "data_dir"
	LogLevelKey = "log_level"
	ListenKey   = "listen"

	devnetRetentionKey      = "devnet.retention"
	devnetPersistKey        = "devnet.persist"
	devnetPersistTimeoutKey = "devnet.persist_timeout"
	devnetGenesisKey        = "devnet.genesis"

	executorMaxStepsKey      = "executor.max_steps"
	executorMaxMemoryKey     = "executor.max_memory"
	executorDefaultStepsKey  = "executor.default_steps"
	executorDefaultMemoryKey = "executor.default_memory"
	executorDeployBaseKey    = "executor.deploy_base"
	executorDeployPerByteKey = "executor.deploy_per_byte"
	executorMaxCodeSizeKey   = "executor.max_code_size"

	buildToolchainKey    = "build.toolchain"
	buildOptimizationKey = "build.optimization"

	deployDeployerKey = "deploy.deployer"
	timeoutKey        = "network.timeout"
	retryAttemptsKey  = "network.retry.attempts"
	retryInitialKey   = "network.retry.initial"
	retryMaxKey       = "network.retry.max"
)

const (
	DefaultDataDir = ".stellarforge"
	DefaultListen  = "127.0.0.1:8545"
	devnetDir      = "devnet"
)

// Config is the complete configuration of the tool.
type Config struct {
	DataDir  string
	LogLevel string
	Listen   string
	Devnet   devnet.Config
	Deploy   deploy.Options
	Verify   verify.Options
}

// RecordsFile is the location of the deployment and verification records.
func (c Config) RecordsFile() string {
	return filepath.Join(c.DataDir, records.DefaultFile)
}

// memoryCap bounds the default memory budget of contract executions to a
// fraction of the physical memory of the host.
func memoryCap(limit uint64) uint64 {
	if total := memory.TotalMemory(); total > 0 && limit > total/4 {
		return total / 4
	}
	return limit
}

func setDefaults(v *viper.Viper) {
	exec := executor.DefaultConfig()
	builds := build.DefaultConfig()
	retry := network.DefaultRetryPolicy()
	deploys := deploy.DefaultOptions()

	v.SetDefault(DataDirKey, DefaultDataDir)
	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(ListenKey, DefaultListen)

	v.SetDefault(devnetRetentionKey, devnet.DefaultConfig().Retention)
	v.SetDefault(devnetPersistKey, true)
	v.SetDefault(devnetPersistTimeoutKey, devnet.DefaultConfig().PersistTimeout)

	v.SetDefault(executorMaxStepsKey, exec.MaxLimits.Steps)
	v.SetDefault(executorMaxMemoryKey, memoryCap(exec.MaxLimits.Memory))
	v.SetDefault(executorDefaultStepsKey, exec.DefaultLimits.Steps)
	v.SetDefault(executorDefaultMemoryKey, memoryCap(exec.DefaultLimits.Memory))
	v.SetDefault(executorDeployBaseKey, exec.Deploy.Base.String())
	v.SetDefault(executorDeployPerByteKey, exec.Deploy.PerByte.String())
	v.SetDefault(executorMaxCodeSizeKey, exec.MaxCodeSize)

	v.SetDefault(buildToolchainKey, builds.Toolchain)
	v.SetDefault(buildOptimizationKey, builds.Optimization)

	v.SetDefault(deployDeployerKey, "")
	v.SetDefault(timeoutKey, deploys.Timeout)
	v.SetDefault(retryAttemptsKey, retry.Attempts)
	v.SetDefault(retryInitialKey, retry.Initial)
	v.SetDefault(retryMaxKey, retry.Max)
}

// Default is the configuration in effect without a configuration file or
// environment overrides.
func Default() Config {
	res, err := Load("", nil)
	if err != nil {
		// the defaults are valid
		panic(fmt.Sprintf("invalid default configuration: %v", err))
	}
	return res
}

// Load reads the configuration from an optional file (TOML, YAML or JSON
// by extension), environment variables and explicit overrides, in
// increasing order of precedence.
func Load(file string, overrides map[string]any) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read configuration %s: %w", file, err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	res := Config{
		DataDir:  v.GetString(DataDirKey),
		LogLevel: v.GetString(LogLevelKey),
		Listen:   v.GetString(ListenKey),
	}

	exec := executor.Config{
		MaxLimits: executor.Limits{
			Steps:  v.GetUint64(executorMaxStepsKey),
			Memory: v.GetUint64(executorMaxMemoryKey),
		},
		DefaultLimits: executor.Limits{
			Steps:  v.GetUint64(executorDefaultStepsKey),
			Memory: v.GetUint64(executorDefaultMemoryKey),
		},
		MaxCodeSize: v.GetInt(executorMaxCodeSizeKey),
	}
	var err error
	if exec.Deploy.Base, err = amount.Parse(v.GetString(executorDeployBaseKey)); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", executorDeployBaseKey, err)
	}
	if exec.Deploy.PerByte, err = amount.Parse(v.GetString(executorDeployPerByteKey)); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", executorDeployPerByteKey, err)
	}
	if err := exec.Check(); err != nil {
		return Config{}, err
	}

	genesis, err := decodeGenesis(v.Get(devnetGenesisKey))
	if err != nil {
		return Config{}, err
	}
	res.Devnet = devnet.Config{
		Retention:      v.GetInt(devnetRetentionKey),
		PersistTimeout: v.GetDuration(devnetPersistTimeoutKey),
		Executor:       exec,
		Genesis:        genesis,
	}
	if v.GetBool(devnetPersistKey) {
		res.Devnet.Persistence = filepath.Join(res.DataDir, devnetDir)
	}

	builds := build.Config{
		Toolchain:    v.GetString(buildToolchainKey),
		Optimization: v.GetInt(buildOptimizationKey),
	}
	if err := builds.Check(); err != nil {
		return Config{}, err
	}
	retry := network.RetryPolicy{
		Attempts: v.GetInt(retryAttemptsKey),
		Initial:  v.GetDuration(retryInitialKey),
		Max:      v.GetDuration(retryMaxKey),
	}
	if retry.Attempts < 1 {
		return Config{}, fmt.Errorf("invalid %s: %d", retryAttemptsKey, retry.Attempts)
	}
	timeout := v.GetDuration(timeoutKey)

	res.Deploy = deploy.Options{
		Deployer: v.GetString(deployDeployerKey),
		Build:    builds,
		Timeout:  timeout,
		Retry:    retry,
		Cost:     exec.Deploy,
	}
	res.Verify = verify.Options{
		Build:   builds,
		Timeout: timeout,
		Retry:   retry,
	}
	return res, nil
}

// decodeGenesis reads a list of {handle, balance} entries. Balances may be
// given as numbers or decimal strings.
func decodeGenesis(raw any) ([]devnet.GenesisAccount, error) {
	if raw == nil {
		return nil, nil
	}
	var entries []any
	switch list := raw.(type) {
	case []any:
		entries = list
	case []map[string]any:
		for _, entry := range list {
			entries = append(entries, entry)
		}
	default:
		return nil, fmt.Errorf("invalid %s: expected a list, got %T", devnetGenesisKey, raw)
	}
	res := make([]devnet.GenesisAccount, 0, len(entries))
	for i, entry := range entries {
		fields, ok := toMap(entry)
		if !ok {
			return nil, fmt.Errorf("invalid %s[%d]: expected a table, got %T", devnetGenesisKey, i, entry)
		}
		handle, _ := fields["handle"].(string)
		account := devnet.GenesisAccount{Handle: handle}
		if balance, found := fields["balance"]; found {
			value, err := parseBalance(balance)
			if err != nil {
				return nil, fmt.Errorf("invalid balance of genesis account %q: %w", handle, err)
			}
			account.Balance = value
		}
		res = append(res, account)
	}
	return res, nil
}

// parseBalance reads a balance decoded from a configuration file. JSON
// numbers arrive as float64 and must be integral.
func parseBalance(value any) (amount.Amount, error) {
	switch v := value.(type) {
	case string:
		return amount.Parse(v)
	case int:
		return amount.Parse(strconv.FormatInt(int64(v), 10))
	case int64:
		return amount.Parse(strconv.FormatInt(v, 10))
	case uint64:
		return amount.New(v), nil
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) || v != math.Trunc(v) {
			return amount.Amount{}, fmt.Errorf("invalid amount %v: not an integer", v)
		}
		return amount.Parse(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return amount.Amount{}, fmt.Errorf("invalid amount %v: unsupported type %T", value, value)
}

func toMap(entry any) (map[string]any, bool) {
	switch fields := entry.(type) {
	case map[string]any:
		return fields, true
	case map[any]any:
		res := make(map[string]any, len(fields))
		for key, value := range fields {
			res[fmt.Sprint(key)] = value
		}
		return res, true
	}
	return nil, false
}

