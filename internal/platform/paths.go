package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the config and data directories when no override is given.
const DefaultAppName = "herbchain"

// Paths locates the ledger's files on one machine.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	LogDir     string
}

// Options selects which application directory to resolve.
type Options struct {
	AppName string
	// DevMode keeps development ledgers apart from real ones under <app>-dev.
	DevMode bool
}

// dirName is the directory and database stem for these options.
func (o Options) dirName() string {
	name := strings.TrimSpace(o.AppName)
	if name == "" {
		name = DefaultAppName
	}
	if o.DevMode {
		name += "-dev"
	}
	return name
}

// BaseDirs are the per-user roots the application directories hang under.
type BaseDirs struct {
	Config string
	Data   string
}

// envOverrides names the variables that relocate the base dirs on each OS.
var envOverrides = map[string]struct{ config, data string }{
	"linux":   {config: "XDG_CONFIG_HOME", data: "XDG_DATA_HOME"},
	"windows": {config: "APPDATA", data: "LOCALAPPDATA"},
}

var (
	errEmptyBaseDirs = errors.New("empty base dirs")
	errEmptyAppName  = errors.New("empty app name")
)

// DefaultPaths resolves paths for the default application name.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{})
}

// DefaultPathsWithOptions resolves paths for the running OS and user.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	base, err := systemBaseDirs(runtime.GOOS)
	if err != nil {
		return Paths{}, err
	}
	return Resolve(runtime.GOOS, os.Getenv, base, opts.dirName())
}

// systemBaseDirs asks the OS for the user's config and data roots.
func systemBaseDirs(goos string) (BaseDirs, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return BaseDirs{}, fmt.Errorf("user config dir: %w", err)
	}
	base := BaseDirs{Config: configDir, Data: configDir}
	if goos == "linux" {
		home, err := os.UserHomeDir()
		if err != nil {
			return BaseDirs{}, fmt.Errorf("user home dir: %w", err)
		}
		base.Data = filepath.Join(home, ".local", "share")
	}
	return base, nil
}

// Resolve lays out the config file, data dir, database, and log dir for appName on goos.
// lookup reads environment overrides; a nil lookup applies none.
func Resolve(goos string, lookup func(string) string, base BaseDirs, appName string) (Paths, error) {
	if base.Config == "" || base.Data == "" {
		return Paths{}, errEmptyBaseDirs
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, errEmptyAppName
	}
	if names, ok := envOverrides[goos]; ok && lookup != nil {
		if v := strings.TrimSpace(lookup(names.config)); v != "" {
			base.Config = v
		}
		if v := strings.TrimSpace(lookup(names.data)); v != "" {
			base.Data = v
		}
	}

	dataDir := filepath.Join(base.Data, appName)
	return Paths{
		ConfigPath: filepath.Join(base.Config, appName, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		LogDir:     filepath.Join(dataDir, "log"),
	}, nil
}
