package symbol

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// LoadTable reads a YAML symbol listing from path and builds a Table
// from it. Listings are produced offline by the symbol extraction
// tooling, one file per build ID.
func LoadTable(path string) (*Table, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var td TableData
	if err := yaml.Unmarshal(data, &td); err != nil {
		return nil, fmt.Errorf("unable to decode symbol listing %s: %v", path, err)
	}
	return NewTable(td), nil
}

// DirectoryLoader returns a LoadFunc that looks for <buildid>.yml in
// each of dirs in order. A build ID found in no directory loads as nil
// symbols without error, since modules without symbol files are normal.
func DirectoryLoader(dirs []string) LoadFunc {
	return func(buildID string) (ModuleSymbols, error) {
		for _, dir := range dirs {
			path := filepath.Join(dir, buildID+".yml")
			if _, err := os.Stat(path); err != nil {
				continue
			}
			t, err := LoadTable(path)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
		return nil, nil
	}
}
