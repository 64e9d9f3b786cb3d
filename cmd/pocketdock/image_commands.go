package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deftio/pocketdock/profiles"
)

func newBuildCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [PROFILE...]",
		Short: "Build profile images (all profiles when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, _, _, err := dial(flags)
			if err != nil {
				return err
			}

			var targets []profiles.Profile
			if len(args) == 0 {
				targets = profiles.List()
			} else {
				for _, name := range args {
					profile, err := profiles.Resolve(name)
					if err != nil {
						return usageError{err}
					}
					targets = append(targets, profile)
				}
			}

			for _, profile := range targets {
				fmt.Printf("building %s (%s)...\n", profile.Name, profile.ImageTag)
				log, err := cl.BuildImage(profile.ImageTag, []byte(profile.Dockerfile))
				if err != nil {
					fmt.Print(log)
					return err
				}
				okColor.Printf("built %s\n", profile.ImageTag)
			}
			return nil
		},
	}
	return cmd
}

func newExportCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export IMAGE FILE",
		Short: "Save an image to a tar archive",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, _, _, err := dial(flags)
			if err != nil {
				return err
			}

			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			if err := cl.ExportImage(args[0], f); err != nil {
				os.Remove(args[1])
				return err
			}
			return nil
		},
	}
	return cmd
}

func newImportCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load an image from a tar archive",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, _, _, err := dial(flags)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return cl.ImportImage(f)
		},
	}
	return cmd
}
