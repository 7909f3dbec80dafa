package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	EnvironmentDevelopment = environmentDevelopment
	EnvironmentProduction  = environmentProduction
	EnvironmentStaging     = environmentStaging
)

// Network names the Bybit deployment a process talks to.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// NetworkOf maps the exchange.testnet flag to a Network.
func NetworkOf(testnet bool) Network {
	if testnet {
		return NetworkTestnet
	}
	return NetworkMainnet
}

// environmentNetworks pins production to mainnet and staging to testnet.
// Development may use either.
var environmentNetworks = map[string]Network{
	environmentProduction: NetworkMainnet,
	environmentStaging:    NetworkTestnet,
}

// environmentAliases lets APP_ENV name the network instead of the stage.
var environmentAliases = map[string]string{
	"prod":    environmentProduction,
	"live":    environmentProduction,
	"mainnet": environmentProduction,
	"stag":    environmentStaging,
	"testnet": environmentStaging,
	"dev":     environmentDevelopment,
	"local":   environmentDevelopment,
}

func normalizeEnvironment(raw string) string {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// AppEnvironment returns APP_ENV normalised, development when unset.
func AppEnvironment() string {
	return normalizeEnvironment(os.Getenv(appEnvVar))
}

// ExpectedNetwork reports the network env is pinned to. ok is false when any
// network is acceptable.
func ExpectedNetwork(env string) (Network, bool) {
	n, ok := environmentNetworks[normalizeEnvironment(env)]
	return n, ok
}

// CheckNetwork fails when env is pinned to a network other than the one the
// testnet flag selects.
func CheckNetwork(env string, testnet bool) error {
	want, pinned := ExpectedNetwork(env)
	if got := NetworkOf(testnet); pinned && got != want {
		return fmt.Errorf("environment %s expects %s but exchange.testnet selects %s", normalizeEnvironment(env), want, got)
	}
	return nil
}

// resolveEnvSpecificPath swaps defaultPath (or an empty path) for the file
// registered for the current environment. Explicit paths are kept.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}
	if envPath, ok := envPaths[AppEnvironment()]; ok && path == defaultPath {
		return envPath
	}
	return path
}
