package project

import (
	"sort"

	"github.com/deftio/pocketdock"
)

// DoctorReport cross-references local instance directories with the
// engine's managed containers for a project.
type DoctorReport struct {
	// OrphanedContainers exist on the engine but have no instance
	// directory.
	OrphanedContainers []string

	// StaleInstanceDirs exist locally but have no engine container.
	StaleInstanceDirs []string

	// Healthy counts instances present on both sides.
	Healthy int
}

// Doctor builds the report for a project root given the engine's
// container listing for that project.
func Doctor(projectRoot string, containers []pocketdock.ContainerListItem) (DoctorReport, error) {
	if projectRoot == "" {
		return DoctorReport{}, pocketdock.ProjectNotInitializedError{}
	}

	dirs, err := ListInstanceDirs(projectRoot)
	if err != nil {
		return DoctorReport{}, err
	}

	local := map[string]bool{}
	for _, dir := range dirs {
		local[dir] = true
	}
	remote := map[string]bool{}
	for _, item := range containers {
		remote[item.Name] = true
	}

	report := DoctorReport{}
	for name := range remote {
		if local[name] {
			report.Healthy++
		} else {
			report.OrphanedContainers = append(report.OrphanedContainers, name)
		}
	}
	for name := range local {
		if !remote[name] {
			report.StaleInstanceDirs = append(report.StaleInstanceDirs, name)
		}
	}
	sort.Strings(report.OrphanedContainers)
	sort.Strings(report.StaleInstanceDirs)
	return report, nil
}
