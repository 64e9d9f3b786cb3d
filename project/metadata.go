package project

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const metadataFilename = "instance.toml"

// InstanceMetadata is the machine-written instance.toml.
type InstanceMetadata struct {
	Container struct {
		ID        string `toml:"id"`
		Name      string `toml:"name"`
		Image     string `toml:"image"`
		Project   string `toml:"project"`
		CreatedAt string `toml:"created_at"`
		Persist   bool   `toml:"persist"`
	} `toml:"container"`
	Resources struct {
		MemLimit   string `toml:"mem_limit,omitempty"`
		CPUPercent int    `toml:"cpu_percent,omitempty"`
	} `toml:"resources"`
	Provenance struct {
		CreatedBy string `toml:"created_by"`
		Pid       int    `toml:"pid"`
	} `toml:"provenance"`
}

// WriteMetadata writes instance.toml into an instance directory.
func WriteMetadata(instanceDir string, meta InstanceMetadata) error {
	if meta.Provenance.CreatedBy == "" {
		meta.Provenance.CreatedBy = strings.Join(os.Args, " ")
		meta.Provenance.Pid = os.Getpid()
	}

	data, err := toml.Marshal(meta)
	if err != nil {
		return err
	}

	header := []byte("# Maintained by pocketdock. Do not edit.\n\n")
	return os.WriteFile(filepath.Join(instanceDir, metadataFilename), append(header, data...), 0o644)
}

// ReadMetadata reads instance.toml from an instance directory. A
// missing file yields the zero value.
func ReadMetadata(instanceDir string) (InstanceMetadata, error) {
	data, err := os.ReadFile(filepath.Join(instanceDir, metadataFilename))
	if os.IsNotExist(err) {
		return InstanceMetadata{}, nil
	}
	if err != nil {
		return InstanceMetadata{}, err
	}

	var meta InstanceMetadata
	if err := toml.Unmarshal(data, &meta); err != nil {
		return InstanceMetadata{}, err
	}
	return meta, nil
}
