package client

import (
	"regexp"
	"time"

	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client/connection"
)

var _ = Describe("Client", func() {
	var (
		fake *fakeConnection
		cl   pocketdock.Client
	)

	BeforeEach(func() {
		fake = newFakeConnection()
		cl = New(fake, lagertest.NewTestLogger("test"))
	})

	Describe("Create", func() {
		It("creates and starts a container with the managed labels", func() {
			container, err := cl.Create(pocketdock.ContainerSpec{
				Name:     "pd-labeled",
				Image:    "img:1",
				Persist:  true,
				Project:  "proj",
				Profile:  "dev",
				DataPath: "/data/path",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(container.ID()).To(Equal("container-1"))
			Expect(fake.started).To(ConsistOf("container-1"))

			Expect(fake.created).To(HaveLen(1))
			labels := fake.created[0].Labels
			Expect(labels).To(HaveKeyWithValue(pocketdock.LabelManaged, "true"))
			Expect(labels).To(HaveKeyWithValue(pocketdock.LabelInstance, "pd-labeled"))
			Expect(labels).To(HaveKeyWithValue(pocketdock.LabelPersist, "true"))
			Expect(labels).To(HaveKeyWithValue(pocketdock.LabelProject, "proj"))
			Expect(labels).To(HaveKeyWithValue(pocketdock.LabelProfile, "dev"))
			Expect(labels).To(HaveKeyWithValue(pocketdock.LabelDataPath, "/data/path"))
			Expect(labels).To(HaveKey(pocketdock.LabelCreatedAt))
		})

		It("auto-generates pd-<8 hex> names", func() {
			container, err := cl.Create(pocketdock.ContainerSpec{Image: "img:1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(container.Name()).To(MatchRegexp(`^pd-[0-9a-f]{8}$`))
		})

		It("generates distinct names", func() {
			a, err := cl.Create(pocketdock.ContainerSpec{Image: "img:1"})
			Expect(err).NotTo(HaveOccurred())
			b, err := cl.Create(pocketdock.ContainerSpec{Image: "img:1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Name()).NotTo(Equal(b.Name()))
		})

		It("resolves a profile into its image tag", func() {
			_, err := cl.Create(pocketdock.ContainerSpec{Profile: "dev"})
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.created[0].Image).To(Equal("pocketdock/dev"))
		})

		It("falls back to the default image", func() {
			_, err := cl.Create(pocketdock.ContainerSpec{})
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.created[0].Image).To(Equal(pocketdock.DefaultImage))
		})

		It("rejects an unknown profile", func() {
			_, err := cl.Create(pocketdock.ContainerSpec{Profile: "galactic"})
			Expect(err).To(MatchError(ContainSubstring("unknown profile")))
		})

		It("translates resource limits into the host config", func() {
			_, err := cl.Create(pocketdock.ContainerSpec{
				Image:      "img:1",
				MemLimit:   "64m",
				CPUPercent: 50,
				Ports:      map[int]int{8080: 80},
				Binds:      map[string]string{"/host": "/ctr"},
				Devices:    []string{"/dev/ttyUSB0"},
			})
			Expect(err).NotTo(HaveOccurred())

			hc := fake.created[0].HostConfig
			Expect(hc).NotTo(BeNil())
			Expect(hc.Memory).To(Equal(int64(64 * 1024 * 1024)))
			Expect(hc.NanoCpus).To(Equal(int64(500_000_000)))
			Expect(hc.Binds).To(ConsistOf("/host:/ctr"))
			Expect(hc.Devices).To(HaveLen(1))
			Expect(hc.PortBindings).To(HaveKey("80/tcp"))
			Expect(hc.PortBindings["80/tcp"][0].HostPort).To(Equal("8080"))
			Expect(fake.created[0].ExposedPorts).To(HaveKey("80/tcp"))
		})

		It("rejects a malformed memory limit", func() {
			_, err := cl.Create(pocketdock.ContainerSpec{Image: "img:1", MemLimit: "lots"})
			Expect(err).To(MatchError(ContainSubstring("invalid memory limit")))
		})

		It("runs the sandbox command as sleep infinity", func() {
			_, err := cl.Create(pocketdock.ContainerSpec{Image: "img:1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.created[0].Cmd).To(Equal([]string{"sleep", "infinity"}))
		})

		It("propagates ImageNotFound from the engine", func() {
			fake.createErr = pocketdock.ImageNotFoundError{Image: "img:1"}
			_, err := cl.Create(pocketdock.ContainerSpec{Image: "img:1"})
			Expect(err).To(Equal(pocketdock.ImageNotFoundError{Image: "img:1"}))
		})
	})

	Describe("Resume", func() {
		BeforeEach(func() {
			fake.summaries = []connection.ContainerSummary{{
				ID:    "cid-55",
				Names: []string{"/pd-sleepy"},
				State: "exited",
				Labels: map[string]string{
					pocketdock.LabelInstance: "pd-sleepy",
					pocketdock.LabelPersist:  "true",
				},
			}}
			fake.details = connection.ContainerDetails{ID: "cid-55"}
			fake.details.Config.Image = "img:9"
			fake.details.Config.Labels = map[string]string{
				pocketdock.LabelPersist:   "true",
				pocketdock.LabelProject:   "proj",
				pocketdock.LabelCreatedAt: "2026-02-01T00:00:00Z",
			}
			fake.details.HostConfig.Memory = 64 * 1024 * 1024
			fake.details.HostConfig.NanoCpus = 250_000_000
		})

		It("starts a stopped container and reconstructs the handle", func() {
			container, err := cl.Resume("pd-sleepy")
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.started).To(ConsistOf("cid-55"))
			Expect(container.ID()).To(Equal("cid-55"))
			Expect(container.Name()).To(Equal("pd-sleepy"))
			Expect(container.Persist()).To(BeTrue())
			Expect(container.Project()).To(Equal("proj"))
		})

		It("does not start an already-running container", func() {
			fake.summaries[0].State = "running"

			_, err := cl.Resume("pd-sleepy")
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.started).To(BeEmpty())
		})

		It("fails with ContainerNotFound for an unknown name", func() {
			fake.summaries = nil
			_, err := cl.Resume("pd-nope")
			Expect(err).To(Equal(pocketdock.ContainerNotFoundError{Handle: "pd-nope"}))
		})
	})

	Describe("List", func() {
		It("maps engine summaries into list items", func() {
			fake.summaries = []connection.ContainerSummary{{
				ID:    "0123456789abcdef0123",
				Names: []string{"/pd-one"},
				Image: "img:1",
				State: "running",
				Labels: map[string]string{
					pocketdock.LabelInstance:  "pd-one",
					pocketdock.LabelPersist:   "true",
					pocketdock.LabelProject:   "proj",
					pocketdock.LabelCreatedAt: "2026-03-01T00:00:00Z",
				},
			}}

			items, err := cl.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].ID).To(Equal("0123456789ab"))
			Expect(items[0].Name).To(Equal("pd-one"))
			Expect(items[0].Status).To(Equal("running"))
			Expect(items[0].Persist).To(BeTrue())
			Expect(items[0].Project).To(Equal("proj"))
		})

		It("falls back to the engine name when the instance label is missing", func() {
			fake.summaries = []connection.ContainerSummary{{
				ID:    "cid",
				Names: []string{"/legacy-name"},
				State: "exited",
			}}

			items, err := cl.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].Name).To(Equal("legacy-name"))
		})
	})

	Describe("Stop and Destroy", func() {
		BeforeEach(func() {
			fake.summaries = []connection.ContainerSummary{{
				ID:     "cid-7",
				Labels: map[string]string{pocketdock.LabelInstance: "pd-seven"},
				State:  "running",
			}}
		})

		It("stops by name without removing", func() {
			Expect(cl.Stop("pd-seven")).To(Succeed())
			Expect(fake.stopped).To(ConsistOf("cid-7"))
			Expect(fake.removed).To(BeEmpty())
		})

		It("destroys by name with force", func() {
			Expect(cl.Destroy("pd-seven")).To(Succeed())
			Expect(fake.removed).To(ConsistOf("cid-7"))
		})

		It("fails for unknown names", func() {
			fake.summaries = nil
			Expect(cl.Stop("pd-nope")).To(Equal(pocketdock.ContainerNotFoundError{Handle: "pd-nope"}))
			Expect(cl.Destroy("pd-nope")).To(Equal(pocketdock.ContainerNotFoundError{Handle: "pd-nope"}))
		})
	})

	Describe("Prune", func() {
		It("removes only stopped containers", func() {
			fake.summaries = []connection.ContainerSummary{
				{ID: "run-1", State: "running"},
				{ID: "dead-1", State: "exited"},
				{ID: "dead-2", State: "created"},
			}

			removed, err := cl.Prune("")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal(2))
			Expect(fake.removed).To(ConsistOf("dead-1", "dead-2"))
		})
	})

	Describe("name generation", func() {
		It("produces lowercase hex suffixes", func() {
			for i := 0; i < 16; i++ {
				Expect(generateName()).To(MatchRegexp(`^pd-[0-9a-f]{8}$`))
			}
		})

		It("matches the documented format exactly", func() {
			re := regexp.MustCompile(`^pd-[0-9a-f]{8}$`)
			Expect(re.MatchString(generateName())).To(BeTrue())
		})
	})

	Describe("sibling handle isolation", func() {
		It("keeps one handle usable after another's operation fails", func() {
			a, err := cl.Create(pocketdock.ContainerSpec{Image: "img:1"})
			Expect(err).NotTo(HaveOccurred())
			b, err := cl.Create(pocketdock.ContainerSpec{Image: "img:1"})
			Expect(err).NotTo(HaveOccurred())

			fake.execCreateErr = pocketdock.ContainerNotFoundError{Handle: "x"}
			_, err = a.Run(pocketdock.ProcessSpec{Command: "true", Timeout: time.Second})
			Expect(err).To(HaveOccurred())

			fake.execCreateErr = nil
			result, err := b.Run(pocketdock.ProcessSpec{Command: "true", Timeout: time.Second})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Ok()).To(BeTrue())
		})
	})
})
