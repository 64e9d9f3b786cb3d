package client

import (
	"fmt"
	"io"
	"strings"
	"time"

	"code.cloudfoundry.org/lager/v3"
	units "github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client/connection"
	"github.com/deftio/pocketdock/profiles"
)

// client implements pocketdock.Client over one engine connection.
type client struct {
	conn connection.Connection
	log  lager.Logger
}

// New returns a Client speaking to the given connection.
func New(conn connection.Connection, logger lager.Logger) pocketdock.Client {
	return &client{conn: conn, log: logger.Session("client")}
}

// Dial auto-detects the engine socket (unless socketPath overrides it)
// and returns a Client.
func Dial(socketPath string, logger lager.Logger) (pocketdock.Client, error) {
	if socketPath == "" {
		detected, err := connection.DetectSocket()
		if err != nil {
			return nil, err
		}
		socketPath = detected
	}
	return New(connection.New(socketPath, logger), logger), nil
}

func (c *client) Ping() error {
	return c.conn.Ping()
}

func (c *client) Create(spec pocketdock.ContainerSpec) (pocketdock.Container, error) {
	if spec.Name == "" {
		spec.Name = generateName()
	}
	if spec.Image == "" {
		if spec.Profile != "" {
			profile, err := profiles.Resolve(spec.Profile)
			if err != nil {
				return nil, err
			}
			spec.Image = profile.ImageTag
		} else {
			spec.Image = pocketdock.DefaultImage
		}
	}
	if spec.Timeout == 0 {
		spec.Timeout = pocketdock.DefaultTimeout
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	req, err := buildCreateRequest(spec, buildLabels(spec, createdAt))
	if err != nil {
		return nil, err
	}

	conn := c.conn
	if spec.SocketPath != "" && spec.SocketPath != conn.SocketPath() {
		conn = connection.New(spec.SocketPath, c.log)
	}

	id, err := conn.CreateContainer(req)
	if err != nil {
		return nil, err
	}
	if err := conn.StartContainer(id); err != nil {
		return nil, err
	}

	c.log.Info("created", lager.Data{"name": spec.Name, "id": id, "image": spec.Image})
	return newContainer(conn, c.log, id, spec, createdAt), nil
}

// Resume reconstructs a handle for an existing managed container,
// starting it first if it is stopped. The active-operations set of the
// new handle begins empty.
func (c *client) Resume(name string) (pocketdock.Container, error) {
	summaries, err := c.conn.ListContainers(pocketdock.LabelInstance + "=" + name)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, pocketdock.ContainerNotFoundError{Handle: name}
	}
	summary := summaries[0]

	if !strings.EqualFold(summary.State, "running") {
		if err := c.conn.StartContainer(summary.ID); err != nil {
			return nil, err
		}
	}

	details, err := c.conn.InspectContainer(summary.ID)
	if err != nil {
		return nil, err
	}
	labels := details.Config.Labels

	spec := pocketdock.ContainerSpec{
		Image:    details.Config.Image,
		Name:     name,
		Timeout:  pocketdock.DefaultTimeout,
		Persist:  labels[pocketdock.LabelPersist] == "true",
		Project:  labels[pocketdock.LabelProject],
		Profile:  labels[pocketdock.LabelProfile],
		DataPath: labels[pocketdock.LabelDataPath],
	}
	if details.HostConfig.Memory > 0 {
		spec.MemLimit = units.BytesSize(float64(details.HostConfig.Memory))
	}
	if details.HostConfig.NanoCpus > 0 {
		spec.CPUPercent = int(details.HostConfig.NanoCpus / 10_000_000)
	}

	c.log.Info("resumed", lager.Data{"name": name, "id": details.ID})
	return newContainer(c.conn, c.log, details.ID, spec, labels[pocketdock.LabelCreatedAt]), nil
}

func (c *client) List() ([]pocketdock.ContainerListItem, error) {
	return c.list(pocketdock.LabelManaged + "=true")
}

func (c *client) ListProject(project string) ([]pocketdock.ContainerListItem, error) {
	return c.list(
		pocketdock.LabelManaged+"=true",
		pocketdock.LabelProject+"="+project,
	)
}

func (c *client) list(labelFilters ...string) ([]pocketdock.ContainerListItem, error) {
	summaries, err := c.conn.ListContainers(labelFilters...)
	if err != nil {
		return nil, err
	}

	items := make([]pocketdock.ContainerListItem, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, summaryToListItem(s))
	}
	return items, nil
}

func (c *client) Stop(name string) error {
	summaries, err := c.conn.ListContainers(pocketdock.LabelInstance + "=" + name)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		return pocketdock.ContainerNotFoundError{Handle: name}
	}
	return c.conn.StopContainer(summaries[0].ID, stopTimeoutSeconds)
}

func (c *client) Destroy(name string) error {
	summaries, err := c.conn.ListContainers(pocketdock.LabelInstance + "=" + name)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		return pocketdock.ContainerNotFoundError{Handle: name}
	}
	return c.conn.RemoveContainer(summaries[0].ID, true)
}

func (c *client) Prune(project string) (int, error) {
	filters := []string{pocketdock.LabelManaged + "=true"}
	if project != "" {
		filters = append(filters, pocketdock.LabelProject+"="+project)
	}

	summaries, err := c.conn.ListContainers(filters...)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, s := range summaries {
		if strings.EqualFold(s.State, "running") {
			continue
		}
		if err := c.conn.RemoveContainer(s.ID, true); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (c *client) Images() ([]pocketdock.Image, error) {
	summaries, err := c.conn.ListImages()
	if err != nil {
		return nil, err
	}

	images := make([]pocketdock.Image, 0, len(summaries))
	for _, s := range summaries {
		images = append(images, pocketdock.Image{
			ID:      s.ID,
			Tags:    s.RepoTags,
			Size:    s.Size,
			Created: time.Unix(s.Created, 0).UTC(),
		})
	}
	return images, nil
}

func (c *client) BuildImage(tag string, dockerfile []byte) (string, error) {
	buildContext, err := connection.PackFileArchive("Dockerfile", dockerfile)
	if err != nil {
		return "", err
	}
	return c.conn.BuildImage(tag, buildContext)
}

func (c *client) ExportImage(name string, w io.Writer) error {
	return c.conn.ExportImage(name, w)
}

func (c *client) ImportImage(r io.Reader) error {
	return c.conn.ImportImage(r)
}

func summaryToListItem(s connection.ContainerSummary) pocketdock.ContainerListItem {
	labels := s.Labels

	name := labels[pocketdock.LabelInstance]
	if name == "" && len(s.Names) > 0 {
		// Docker prefixes names with "/"; Podman does not.
		name = strings.TrimPrefix(s.Names[0], "/")
	}

	id := s.ID
	if len(id) > 12 {
		id = id[:12]
	}

	return pocketdock.ContainerListItem{
		ID:        id,
		Name:      name,
		Status:    s.State,
		Image:     s.Image,
		CreatedAt: labels[pocketdock.LabelCreatedAt],
		Persist:   labels[pocketdock.LabelPersist] == "true",
		Project:   labels[pocketdock.LabelProject],
		Profile:   labels[pocketdock.LabelProfile],
	}
}

// GenerateName returns a fresh container name like "pd-a1b2c3d4".
// Exposed for callers that need the name before Create (the instance
// directory is keyed by it).
func GenerateName() string {
	return generateName()
}

func generateName() string {
	return "pd-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// buildLabels assembles the managed-container label set.
func buildLabels(spec pocketdock.ContainerSpec, createdAt string) map[string]string {
	labels := map[string]string{
		pocketdock.LabelManaged:   "true",
		pocketdock.LabelInstance:  spec.Name,
		pocketdock.LabelPersist:   fmt.Sprintf("%t", spec.Persist),
		pocketdock.LabelCreatedAt: createdAt,
	}
	if spec.Profile != "" {
		labels[pocketdock.LabelProfile] = spec.Profile
	}
	if spec.Project != "" {
		labels[pocketdock.LabelProject] = spec.Project
	}
	if spec.DataPath != "" {
		labels[pocketdock.LabelDataPath] = spec.DataPath
	}
	return labels
}

// buildCreateRequest translates a ContainerSpec into the engine's
// create payload. The container runs "sleep infinity" so execs have a
// live target.
func buildCreateRequest(spec pocketdock.ContainerSpec, labels map[string]string) (connection.CreateContainerRequest, error) {
	req := connection.CreateContainerRequest{
		Image:      spec.Image,
		Cmd:        []string{"sleep", "infinity"},
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Labels:     labels,
	}

	hc := &connection.HostConfig{NetworkMode: spec.Network}

	if spec.MemLimit != "" {
		memBytes, err := units.RAMInBytes(spec.MemLimit)
		if err != nil {
			return connection.CreateContainerRequest{}, fmt.Errorf("invalid memory limit %q: %w", spec.MemLimit, err)
		}
		hc.Memory = memBytes
	}
	if spec.CPUPercent > 0 {
		hc.NanoCpus = int64(spec.CPUPercent) * 10_000_000
	}
	for host, ctr := range spec.Binds {
		hc.Binds = append(hc.Binds, host+":"+ctr)
	}
	for _, device := range spec.Devices {
		hc.Devices = append(hc.Devices, connection.DeviceMapping{
			PathOnHost:        device,
			PathInContainer:   device,
			CgroupPermissions: "rwm",
		})
	}
	if len(spec.Ports) > 0 {
		hc.PortBindings = map[string][]connection.PortBinding{}
		req.ExposedPorts = map[string]struct{}{}
		for hostPort, ctrPort := range spec.Ports {
			key := fmt.Sprintf("%d/tcp", ctrPort)
			req.ExposedPorts[key] = struct{}{}
			hc.PortBindings[key] = append(hc.PortBindings[key], connection.PortBinding{
				HostPort: fmt.Sprintf("%d", hostPort),
			})
		}
	}

	if hc.Memory > 0 || hc.NanoCpus > 0 || len(hc.Binds) > 0 ||
		len(hc.Devices) > 0 || len(hc.PortBindings) > 0 || hc.NetworkMode != "" {
		req.HostConfig = hc
	}
	return req, nil
}
