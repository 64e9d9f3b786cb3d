package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	units "github.com/docker/go-units"

	"github.com/deftio/pocketdock"
)

var (
	headerColor = color.New(color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed)
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(status string) *color.Color {
	switch status {
	case "running":
		return okColor
	case "exited", "stopped":
		return warnColor
	default:
		return failColor
	}
}

func printContainerList(items []pocketdock.ContainerListItem) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	headerColor.Fprintln(w, "NAME\tSTATUS\tIMAGE\tPROJECT\tPERSIST\tCREATED")
	for _, item := range items {
		persist := ""
		if item.Persist {
			persist = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			item.Name,
			statusColor(item.Status).Sprint(item.Status),
			item.Image,
			item.Project,
			persist,
			item.CreatedAt,
		)
	}
	w.Flush()
}

func printInfo(info pocketdock.ContainerInfo) {
	fmt.Printf("%s %s\n", headerColor.Sprint("name:"), info.Name)
	fmt.Printf("%s %s\n", headerColor.Sprint("id:"), info.ID)
	fmt.Printf("%s %s\n", headerColor.Sprint("status:"), statusColor(info.Status).Sprint(info.Status))
	fmt.Printf("%s %s\n", headerColor.Sprint("image:"), info.Image)
	if !info.CreatedAt.IsZero() {
		fmt.Printf("%s %s\n", headerColor.Sprint("created:"), info.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if info.Uptime > 0 {
		fmt.Printf("%s %s\n", headerColor.Sprint("uptime:"), info.Uptime.Round(1e9))
	}
	if info.MemoryLimitBytes > 0 {
		fmt.Printf("%s %s / %s (%.1f%%)\n",
			headerColor.Sprint("memory:"),
			units.HumanSize(float64(info.MemoryUsageBytes)),
			units.HumanSize(float64(info.MemoryLimitBytes)),
			info.MemoryPercent,
		)
	} else if info.MemoryUsageBytes > 0 {
		fmt.Printf("%s %s\n", headerColor.Sprint("memory:"), units.HumanSize(float64(info.MemoryUsageBytes)))
	}
	if info.CPUPercent > 0 {
		fmt.Printf("%s %.1f%%\n", headerColor.Sprint("cpu:"), info.CPUPercent)
	}
	if info.Pids > 0 {
		fmt.Printf("%s %d\n", headerColor.Sprint("pids:"), info.Pids)
	}
	if info.IPAddress != "" {
		fmt.Printf("%s %s\n", headerColor.Sprint("ip:"), info.IPAddress)
	}
	if len(info.Processes) > 0 {
		fmt.Println(headerColor.Sprint("processes:"))
		for _, proc := range info.Processes {
			fmt.Printf("  %s %s\n", proc["PID"], proc["CMD"])
		}
	}
}

func printResult(result pocketdock.ExecResult) {
	if result.Stdout != "" {
		fmt.Print(result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
	if result.TimedOut {
		failColor.Fprintln(os.Stderr, "(timed out)")
	}
	if result.Truncated {
		warnColor.Fprintln(os.Stderr, "(output truncated)")
	}
}

type jsonResult struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
	Truncated  bool   `json:"truncated"`
	OK         bool   `json:"ok"`
}

func toJSONResult(result pocketdock.ExecResult) jsonResult {
	return jsonResult{
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		DurationMS: result.Duration.Milliseconds(),
		TimedOut:   result.TimedOut,
		Truncated:  result.Truncated,
		OK:         result.Ok(),
	}
}
