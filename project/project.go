// Package project manages the host-side .pocketdock/ directory:
// project configuration, per-instance metadata and data directories,
// history logs, and the doctor cross-check.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/deftio/pocketdock"
)

const (
	// ConfigFilename is the project configuration file name.
	ConfigFilename = "pocketdock.yaml"

	dirName       = ".pocketdock"
	instancesName = "instances"
)

const defaultConfigTemplate = `# Project configuration for pocketdock
project_name: %s
default_profile: minimal
default_persist: false

logging:
  auto_log: true
  max_log_size: "10MB"
  max_logs_per_instance: 100
  retention_days: 30
`

// FindRoot walks up from start (or the working directory) looking for
// .pocketdock/pocketdock.yaml. Returns "" when no project encloses the
// path.
func FindRoot(start string) string {
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return ""
		}
		start = wd
	}

	current, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(current, dirName, ConfigFilename)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// RequireRoot is FindRoot that fails with ProjectNotInitializedError.
func RequireRoot(start string) (string, error) {
	root := FindRoot(start)
	if root == "" {
		return "", pocketdock.ProjectNotInitializedError{}
	}
	return root, nil
}

// Init creates .pocketdock/pocketdock.yaml and the instances directory
// under path. Existing configuration is left untouched.
func Init(path, projectName string) (string, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	pdDir := filepath.Join(root, dirName)
	if err := os.MkdirAll(filepath.Join(pdDir, instancesName), 0o755); err != nil {
		return "", err
	}

	if projectName == "" {
		projectName = filepath.Base(root)
	}

	configPath := filepath.Join(pdDir, ConfigFilename)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		content := fmt.Sprintf(defaultConfigTemplate, projectName)
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return root, nil
}

// Name returns the configured project name, falling back to the root
// directory's basename.
func Name(projectRoot string) string {
	cfg := LoadConfig(projectRoot)
	if cfg.ProjectName != "" {
		return cfg.ProjectName
	}
	return filepath.Base(projectRoot)
}

// EnsureInstanceDir creates .pocketdock/instances/<name>/ with logs/
// and data/ subdirectories, returning the instance directory.
func EnsureInstanceDir(projectRoot, instanceName string) (string, error) {
	instanceDir := filepath.Join(projectRoot, dirName, instancesName, instanceName)
	for _, sub := range []string{"logs", "data"} {
		if err := os.MkdirAll(filepath.Join(instanceDir, sub), 0o755); err != nil {
			return "", err
		}
	}
	return instanceDir, nil
}

// RemoveInstanceDir deletes an instance directory. Reports whether
// anything was removed.
func RemoveInstanceDir(projectRoot, instanceName string) (bool, error) {
	instanceDir := filepath.Join(projectRoot, dirName, instancesName, instanceName)
	if _, err := os.Stat(instanceDir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(instanceDir); err != nil {
		return false, err
	}
	return true, nil
}

// ListInstanceDirs returns the instance directory names, sorted.
func ListInstanceDirs(projectRoot string) ([]string, error) {
	instancesDir := filepath.Join(projectRoot, dirName, instancesName)
	entries, err := os.ReadDir(instancesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// InstanceDir returns the path of an instance directory without
// creating it.
func InstanceDir(projectRoot, instanceName string) string {
	return filepath.Join(projectRoot, dirName, instancesName, instanceName)
}
