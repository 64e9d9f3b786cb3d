package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/deftio/pocketdock/profiles"
	"github.com/deftio/pocketdock/project"
)

func newListCommand(flags *globalFlags) *cobra.Command {
	var (
		asJSON      bool
		projectName string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List managed containers",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, _, _, err := dial(flags)
			if err != nil {
				return err
			}

			items, err := cl.List()
			if projectName != "" {
				items, err = cl.ListProject(projectName)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(items)
			}
			if len(items) == 0 {
				fmt.Println("no managed containers")
				return nil
			}
			printContainerList(items)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	cmd.Flags().StringVar(&projectName, "project", "", "filter by project label")
	return cmd
}

func newPruneCommand(flags *globalFlags) *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove all stopped managed containers",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, _, _, err := dial(flags)
			if err != nil {
				return err
			}
			removed, err := cl.Prune(projectName)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d container(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectName, "project", "", "only prune this project's containers")
	return cmd
}

func newLogsCommand(flags *globalFlags) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs NAME",
		Short: "Print an instance's history log",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := project.RequireRoot("")
			if err != nil {
				return err
			}

			historyPath := filepath.Join(project.InstanceDir(root, args[0]), "logs", "history.jsonl")
			f, err := os.Open(historyPath)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no history for instance %s", args[0])
				}
				return err
			}
			defer f.Close()

			lines := []string{}
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			for scanner.Scan() {
				lines = append(lines, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			if tail > 0 && len(lines) > tail {
				lines = lines[len(lines)-tail:]
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 0, "show only the last N records")
	return cmd
}

func newDoctorCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Cross-check instance directories against the engine",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := project.RequireRoot("")
			if err != nil {
				return err
			}

			cl, _, _, err := dial(flags)
			if err != nil {
				return err
			}
			items, err := cl.ListProject(project.Name(root))
			if err != nil {
				return err
			}

			report, err := project.Doctor(root, items)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(report)
			}
			okColor.Printf("healthy: %d\n", report.Healthy)
			for _, name := range report.OrphanedContainers {
				warnColor.Printf("orphaned container (no instance dir): %s\n", name)
			}
			for _, name := range report.StaleInstanceDirs {
				warnColor.Printf("stale instance dir (no container): %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	return cmd
}

func newInitCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a .pocketdock/ project in the current directory",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			root, err := project.Init(wd, name)
			if err != nil {
				return err
			}
			okColor.Printf("initialized project in %s\n", filepath.Join(root, ".pocketdock"))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (defaults to the directory name)")
	return cmd
}

func newProfilesCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List built-in image profiles",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			all := profiles.List()
			if asJSON {
				return printJSON(all)
			}
			for _, p := range all {
				headerColor.Printf("%-10s", p.Name)
				fmt.Printf(" %-22s %-8s %s\n", p.ImageTag, p.SizeEstimate, p.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	return cmd
}
