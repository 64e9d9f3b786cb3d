package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client"
	"github.com/deftio/pocketdock/profiles"
	"github.com/deftio/pocketdock/project"
)

func newCreateCommand(flags *globalFlags) *cobra.Command {
	var (
		image      string
		profile    string
		name       string
		memLimit   string
		cpuPercent int
		persist    bool
		timeout    time.Duration
		network    string
		volumes    []string
		ports      []string
		devices    []string
		env        []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create and start a sandbox container",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, cfg, _, err := dial(flags)
			if err != nil {
				return err
			}

			spec := pocketdock.ContainerSpec{
				Image:      image,
				Profile:    profile,
				Name:       name,
				MemLimit:   memLimit,
				CPUPercent: cpuPercent,
				Persist:    persist || cfg.DefaultPersist,
				Timeout:    timeout,
				Network:    network,
				Env:        env,
				Devices:    devices,
				SocketPath: flags.socket,
			}
			if spec.Profile == "" && spec.Image == "" {
				spec.Profile = cfg.DefaultProfile
			}
			if spec.Image == "" && spec.Profile != "" {
				profileInfo, err := profiles.Resolve(spec.Profile)
				if err != nil {
					return usageError{err}
				}
				spec.Image = profileInfo.ImageTag
			}

			for _, volume := range volumes {
				host, ctr, found := strings.Cut(volume, ":")
				if !found {
					return usageError{fmt.Errorf("invalid --volume %q, want host:container", volume)}
				}
				if spec.Binds == nil {
					spec.Binds = map[string]string{}
				}
				spec.Binds[host] = ctr
			}
			for _, port := range ports {
				hostStr, ctrStr, found := strings.Cut(port, ":")
				if !found {
					return usageError{fmt.Errorf("invalid --port %q, want host:container", port)}
				}
				hostPort, err1 := strconv.Atoi(hostStr)
				ctrPort, err2 := strconv.Atoi(ctrStr)
				if err1 != nil || err2 != nil {
					return usageError{fmt.Errorf("invalid --port %q, want host:container", port)}
				}
				if spec.Ports == nil {
					spec.Ports = map[int]int{}
				}
				spec.Ports[hostPort] = ctrPort
			}

			// Persistent containers in a project get an instance dir
			// plus machine-written metadata.
			if spec.Persist {
				if root := project.FindRoot(""); root != "" {
					if spec.Project == "" {
						spec.Project = project.Name(root)
					}
					if spec.Name == "" {
						// The instance dir is keyed by name; pick one early.
						spec.Name = client.GenerateName()
					}
					instanceDir, err := project.EnsureInstanceDir(root, spec.Name)
					if err != nil {
						return err
					}
					spec.DataPath = instanceDir
				}
			}

			container, err := cl.Create(spec)
			if err != nil {
				return err
			}

			if spec.DataPath != "" {
				meta := project.InstanceMetadata{}
				meta.Container.ID = container.ID()
				meta.Container.Name = container.Name()
				meta.Container.Image = spec.Image
				meta.Container.Project = spec.Project
				meta.Container.CreatedAt = time.Now().UTC().Format(time.RFC3339)
				meta.Container.Persist = spec.Persist
				meta.Resources.MemLimit = spec.MemLimit
				meta.Resources.CPUPercent = spec.CPUPercent
				if err := project.WriteMetadata(spec.DataPath, meta); err != nil {
					warnColor.Fprintf(os.Stderr, "warning: could not write instance metadata: %s\n", err)
				}
			}

			fmt.Println(container.Name())
			return nil
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "container image (overrides --profile)")
	cmd.Flags().StringVar(&profile, "profile", "", "image profile: minimal, dev, agent, embedded")
	cmd.Flags().StringVar(&name, "name", "", "container name (auto-generated when empty)")
	cmd.Flags().StringVar(&memLimit, "mem", "", "memory limit, e.g. 64m, 1g")
	cmd.Flags().IntVar(&cpuPercent, "cpu", 0, "CPU cap in percent")
	cmd.Flags().BoolVar(&persist, "persist", false, "keep the container across shutdown")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "default exec timeout")
	cmd.Flags().StringVar(&network, "network", "", "network mode")
	cmd.Flags().StringArrayVar(&volumes, "volume", nil, "bind mount host:container (repeatable)")
	cmd.Flags().StringArrayVar(&ports, "port", nil, "port mapping host:container (repeatable)")
	cmd.Flags().StringArrayVar(&devices, "device", nil, "host device to pass through (repeatable)")
	cmd.Flags().StringArrayVar(&env, "env", nil, "environment entry KEY=VALUE (repeatable)")
	return cmd
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	var (
		stream    bool
		detach    bool
		lang      string
		timeout   time.Duration
		maxOutput int64
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "run NAME COMMAND",
		Short: "Execute a command in a container",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stream && detach {
				return usageError{errors.New("--stream and --detach are mutually exclusive")}
			}

			container, cfg, err := resume(flags, args[0])
			if err != nil {
				return err
			}

			spec := pocketdock.ProcessSpec{
				Command:   args[1],
				Lang:      lang,
				Timeout:   timeout,
				MaxOutput: maxOutput,
			}

			switch {
			case stream:
				return runStreaming(container, spec)
			case detach:
				return runDetached(container, spec)
			default:
				result, err := container.Run(spec)
				if err != nil {
					return err
				}
				recordRun(container, cfg, args[1], result)
				if asJSON {
					if err := printJSON(toJSONResult(result)); err != nil {
						return err
					}
				} else {
					printResult(result)
				}
				if !result.Ok() {
					os.Exit(exitUserError)
				}
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "stream output as it arrives")
	cmd.Flags().BoolVar(&detach, "detach", false, "run in the background, draining the buffer")
	cmd.Flags().StringVar(&lang, "lang", "", "interpreter shorthand, e.g. python")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "exec timeout")
	cmd.Flags().Int64Var(&maxOutput, "max-output", 0, "output cap in bytes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	return cmd
}

func runStreaming(container pocketdock.Container, spec pocketdock.ProcessSpec) error {
	execStream, err := container.Stream(spec)
	if err != nil {
		return err
	}
	defer execStream.Close()

	for {
		chunk, err := execStream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if chunk.Stream == pocketdock.StderrStream {
			fmt.Fprint(os.Stderr, chunk.Data)
		} else {
			fmt.Print(chunk.Data)
		}
	}

	result, err := execStream.Result()
	if err != nil {
		return err
	}
	if !result.Ok() {
		os.Exit(exitUserError)
	}
	return nil
}

func runDetached(container pocketdock.Container, spec pocketdock.ProcessSpec) error {
	proc, err := container.Detach(spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "detached: %s\n", proc.ID())

	for proc.IsRunning() {
		drain(proc.Read())
		time.Sleep(200 * time.Millisecond)
	}

	result, err := proc.Wait(0)
	if err != nil {
		return err
	}
	drain(proc.Read())
	if proc.BufferOverflow() {
		warnColor.Fprintln(os.Stderr, "(buffer overflowed, oldest output dropped)")
	}
	if result.ExitCode != 0 {
		os.Exit(exitUserError)
	}
	return nil
}

func drain(snapshot pocketdock.BufferSnapshot) {
	if snapshot.Stdout != "" {
		fmt.Print(snapshot.Stdout)
	}
	if snapshot.Stderr != "" {
		fmt.Fprint(os.Stderr, snapshot.Stderr)
	}
}

// recordRun appends a history record when the project enables
// auto-logging and the container carries an instance directory.
func recordRun(container pocketdock.Container, cfg project.Config, command string, result pocketdock.ExecResult) {
	if !cfg.AutoLog || container.DataPath() == "" {
		return
	}
	history := project.OpenHistory(container.DataPath(), cfg)
	defer history.Close()
	history.RecordRun(command, result)
}

func newPushCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push NAME SRC DST",
		Short: "Copy a host file or directory into a container",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, _, err := resume(flags, args[0])
			if err != nil {
				return err
			}
			return container.Push(args[1], args[2])
		},
	}
	return cmd
}

func newPullCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull NAME SRC DST",
		Short: "Copy a container file or directory to the host",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, _, err := resume(flags, args[0])
			if err != nil {
				return err
			}
			return container.Pull(args[1], args[2])
		},
	}
	return cmd
}

func newInfoCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info NAME",
		Short: "Show live container state and resource usage",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, _, err := resume(flags, args[0])
			if err != nil {
				return err
			}
			info, err := container.Info()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(info)
			}
			printInfo(info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	return cmd
}

func newRebootCommand(flags *globalFlags) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "reboot NAME",
		Short: "Restart a container (--fresh recreates it)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, _, err := resume(flags, args[0])
			if err != nil {
				return err
			}
			return container.Reboot(fresh)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "tear down and recreate from the same spec")
	return cmd
}

func newStopCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop a container without removing it",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, _, _, err := dial(flags)
			if err != nil {
				return err
			}
			return cl.Stop(args[0])
		},
	}
	return cmd
}

func newResumeCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume NAME",
		Short: "Start a stopped container and reattach",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, _, err := resume(flags, args[0])
			if err != nil {
				return err
			}
			okColor.Printf("resumed %s (%s)\n", container.Name(), container.ID()[:12])
			return nil
		},
	}
	return cmd
}

func newShutdownCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shutdown NAME",
		Short: "Tear down a container (removed unless persistent)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, _, err := resume(flags, args[0])
			if err != nil {
				return err
			}
			return container.Shutdown()
		},
	}
	return cmd
}

func newSnapshotCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot NAME IMAGE",
		Short: "Commit the container filesystem as an image",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, _, err := resume(flags, args[0])
			if err != nil {
				return err
			}
			imageID, err := container.Snapshot(args[1])
			if err != nil {
				return err
			}
			fmt.Println(imageID)
			return nil
		},
	}
	return cmd
}

func newShellCommand(flags *globalFlags) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "shell NAME",
		Short: "Open an interactive shell session",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, _, err := resume(flags, args[0])
			if err != nil {
				return err
			}
			session, err := container.Session()
			if err != nil {
				return err
			}
			defer session.Close()

			fmt.Fprintf(os.Stderr, "connected to %s; type exit or press Ctrl-D to leave\n", container.Name())

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Fprint(os.Stderr, "$ ")
				if !scanner.Scan() {
					break
				}
				line := scanner.Text()
				if strings.TrimSpace(line) == "exit" {
					break
				}
				if strings.TrimSpace(line) == "" {
					continue
				}

				result, err := session.SendAndWait(line, timeout)
				if err != nil {
					return err
				}
				printResult(result)
			}
			return scanner.Err()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-command timeout")
	return cmd
}
