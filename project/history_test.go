package project_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/project"
)

var _ = Describe("History", func() {
	var (
		workDir     string
		instanceDir string
		cfg         project.Config
	)

	BeforeEach(func() {
		workDir = GinkgoT().TempDir()
		var err error
		_, err = project.Init(workDir, "h")
		Expect(err).NotTo(HaveOccurred())
		instanceDir, err = project.EnsureInstanceDir(workDir, "pd-hist")
		Expect(err).NotTo(HaveOccurred())
		cfg = project.DefaultConfig()
	})

	readRecords := func() []map[string]interface{} {
		f, err := os.Open(filepath.Join(instanceDir, "logs", "history.jsonl"))
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		var records []map[string]interface{}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var record map[string]interface{}
			Expect(json.Unmarshal(scanner.Bytes(), &record)).To(Succeed())
			records = append(records, record)
		}
		return records
	}

	It("appends run records as JSON lines", func() {
		history := project.OpenHistory(instanceDir, cfg)
		defer history.Close()

		history.RecordRun("echo hello", pocketdock.ExecResult{
			ExitCode: 0,
			Stdout:   "hello\n",
			Duration: 42 * time.Millisecond,
		})
		history.RecordRun("sleep 99", pocketdock.ExecResult{
			ExitCode: -1,
			TimedOut: true,
		})

		records := readRecords()
		Expect(records).To(HaveLen(2))
		Expect(records[0]["type"]).To(Equal("run"))
		Expect(records[0]["command"]).To(Equal("echo hello"))
		Expect(records[0]["exit_code"]).To(BeNumerically("==", 0))
		Expect(records[0]["duration_ms"]).To(BeNumerically("==", 42))
		Expect(records[1]["timed_out"]).To(Equal(true))
	})

	It("appends session records with direction", func() {
		history := project.OpenHistory(instanceDir, cfg)
		defer history.Close()

		history.RecordSession("exec-1", "send", "cd /tmp\n")
		history.RecordSession("exec-1", "recv", "/tmp\n")

		records := readRecords()
		Expect(records).To(HaveLen(2))
		Expect(records[0]["type"]).To(Equal("session"))
		Expect(records[0]["direction"]).To(Equal("send"))
		Expect(records[1]["direction"]).To(Equal("recv"))
	})
})
