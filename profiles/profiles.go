// Package profiles maps profile names to pre-built sandbox image tags
// and carries the Dockerfile source each image is built from.
package profiles

import (
	"fmt"
	"sort"
	"strings"
)

// Profile describes one built-in image profile.
type Profile struct {
	Name           string
	ImageTag       string
	NetworkDefault bool
	Description    string
	SizeEstimate   string
	Dockerfile     string
}

var registry = map[string]Profile{
	"minimal": {
		Name:           "minimal",
		ImageTag:       "pocketdock/minimal",
		NetworkDefault: false,
		Description:    "Lightest sandbox: Python 3, sh, busybox",
		SizeEstimate:   "~25MB",
		Dockerfile: `FROM alpine:3.20
RUN apk add --no-cache python3 busybox-extras
RUN adduser -D sandbox
WORKDIR /home/sandbox
CMD ["sleep", "infinity"]
`,
	},
	"dev": {
		Name:           "dev",
		ImageTag:       "pocketdock/dev",
		NetworkDefault: true,
		Description:    "Interactive dev sandbox: git, curl, vim, build tools",
		SizeEstimate:   "~250MB",
		Dockerfile: `FROM alpine:3.20
RUN apk add --no-cache python3 py3-pip git curl vim build-base
RUN adduser -D sandbox
WORKDIR /home/sandbox
CMD ["sleep", "infinity"]
`,
	},
	"agent": {
		Name:           "agent",
		ImageTag:       "pocketdock/agent",
		NetworkDefault: false,
		Description:    "Agent sandbox: requests, pandas, numpy, beautifulsoup4",
		SizeEstimate:   "~350MB",
		Dockerfile: `FROM python:3.12-slim
RUN pip install --no-cache-dir requests pandas numpy beautifulsoup4
RUN useradd -m sandbox
WORKDIR /home/sandbox
CMD ["sleep", "infinity"]
`,
	},
	"embedded": {
		Name:           "embedded",
		ImageTag:       "pocketdock/embedded",
		NetworkDefault: true,
		Description:    "C/C++ toolchain: GCC, CMake, ARM cross-compiler",
		SizeEstimate:   "~450MB",
		Dockerfile: `FROM debian:bookworm-slim
RUN apt-get update && apt-get install -y --no-install-recommends \
    gcc g++ make cmake gcc-arm-none-eabi && \
    rm -rf /var/lib/apt/lists/*
RUN useradd -m sandbox
WORKDIR /home/sandbox
CMD ["sleep", "infinity"]
`,
	},
}

// Resolve looks up a profile by name.
func Resolve(name string) (Profile, error) {
	profile, ok := registry[name]
	if !ok {
		known := make([]string, 0, len(registry))
		for k := range registry {
			known = append(known, k)
		}
		sort.Strings(known)
		return Profile{}, fmt.Errorf("unknown profile %q (known profiles: %s)", name, strings.Join(known, ", "))
	}
	return profile, nil
}

// List returns all built-in profiles, sorted by name.
func List() []Profile {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Profile, 0, len(names))
	for _, name := range names {
		out = append(out, registry[name])
	}
	return out
}
