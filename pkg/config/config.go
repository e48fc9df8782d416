package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".tether"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// AgentCmd is the command line used by `tether connect --launch` to
	// start a debug agent when none is running yet.
	AgentCmd string `yaml:"agent-cmd"`

	// SymbolPaths is the list of directories searched for symbol
	// listings. Listings are matched to loaded modules by build ID.
	SymbolPaths []string `yaml:"symbol-paths"`

	// LogOutput selects the log components enabled when the --log-output
	// flag is not given on the command line.
	LogOutput string `yaml:"log-output"`

	// LogDest redirects log output to a file path or file descriptor
	// number when the --log-dest flag is not given.
	LogDest string `yaml:"log-dest"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the tether debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Command line used by 'tether connect --launch' to start a debug agent
# when none is running yet.
# agent-cmd: "debug_agent --port 2345"

# List of directories to search for symbol listings. Listings are matched
# to loaded modules by build ID.
# symbol-paths: ["/usr/lib/debug/tether"]

# Log components enabled when --log-output is not given. Available
# components: session, symbol, agentwire, dap.
# log-output: session

# Default destination for log output, a file path or a file descriptor
# number.
# log-dest: tether.log
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
