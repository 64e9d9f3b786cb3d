package client

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deftio/pocketdock"
)

// installFakeShell emulates a /bin/sh reading commands from stdin: it
// executes the scripted commands and substitutes $? into the sentinel
// printf (located with sentinelStub), the way the real shell does.
var sentinelStub = regexp.MustCompile(`printf "\\n(__PD_[0-9a-f]+_\d+_)\$\?__\\n"`)

func installFakeShell(e *fakeExec) {
	e.conn.setStdinHandler(func(line string) {
		command := line
		sentinel := ""
		if idx := strings.Index(line, "; printf"); idx >= 0 {
			command = line[:idx]
			if m := sentinelStub.FindStringSubmatch(line[idx:]); m != nil {
				sentinel = m[1]
			}
		}

		exitCode := 0
		switch {
		case command == "pwd":
			e.conn.emit(pocketdock.StdoutStream, "/tmp\n")
		case command == "false":
			exitCode = 1
		case command == "emit-lookalike":
			e.conn.emit(pocketdock.StdoutStream, "__PD_00000000deadbeef_9_0__\n")
		case command == "to-stderr":
			e.conn.emit(pocketdock.StderrStream, "complaint\n")
		case strings.HasPrefix(command, "echo "):
			e.conn.emit(pocketdock.StdoutStream, strings.TrimPrefix(command, "echo ")+"\n")
		case command == "hang":
			return // no sentinel will ever come
		case command == "die":
			e.finish(0)
			return
		}

		if sentinel != "" {
			e.conn.emit(pocketdock.StdoutStream, fmt.Sprintf("\n%s%d__\n", sentinel, exitCode))
		}
	})
}

var _ = Describe("Session", func() {
	var (
		fake *fakeConnection
		ctr  *container
		sess pocketdock.Session
	)

	BeforeEach(func() {
		fake = newFakeConnection()
		fake.onExec = func(e *fakeExec) {
			if e.req.AttachStdin {
				installFakeShell(e)
				<-e.conn.closed
				return
			}
			e.finish(0)
		}
		ctr = newTestContainer(fake)

		var err error
		sess, err = ctr.Session()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		sess.Close()
	})

	It("opens a /bin/sh exec with stdin attached and TTY off", func() {
		exec := fake.execByCommand("/bin/sh")
		Expect(exec).NotTo(BeNil())
		Expect(exec.req.AttachStdin).To(BeTrue())
		Expect(exec.req.AttachStdout).To(BeTrue())
		Expect(exec.req.AttachStderr).To(BeTrue())
		Expect(exec.req.Tty).To(BeFalse())
	})

	Describe("SendAndWait", func() {
		It("returns the command output and shell exit code", func() {
			result, err := sess.SendAndWait("pwd", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(result.Stdout)).To(Equal("/tmp"))
			Expect(result.ExitCode).To(Equal(0))
		})

		It("propagates a non-zero exit code from $?", func() {
			result, err := sess.SendAndWait("false", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ExitCode).To(Equal(1))
			Expect(result.Ok()).To(BeFalse())
		})

		It("attributes output segments to consecutive commands", func() {
			first, err := sess.SendAndWait("echo one", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Stdout).To(ContainSubstring("one\n"))
			Expect(first.Stdout).NotTo(ContainSubstring("two"))

			second, err := sess.SendAndWait("echo two", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Stdout).To(ContainSubstring("two\n"))
			Expect(second.Stdout).NotTo(ContainSubstring("one"))
		})

		It("collects stderr separately", func() {
			result, err := sess.SendAndWait("to-stderr", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Stderr).To(Equal("complaint\n"))
		})

		It("is not fooled by sentinel-shaped output with a foreign token", func() {
			result, err := sess.SendAndWait("emit-lookalike", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ExitCode).To(Equal(0))
			Expect(result.Stdout).To(ContainSubstring("__PD_00000000deadbeef_9_0__"))
		})

		It("sends the sentinel with an incrementing sequence number", func() {
			_, err := sess.SendAndWait("echo a", time.Second)
			Expect(err).NotTo(HaveOccurred())
			_, err = sess.SendAndWait("echo b", time.Second)
			Expect(err).NotTo(HaveOccurred())

			exec := fake.execByCommand("/bin/sh")
			stdin := exec.conn.stdinText()
			seqs := regexp.MustCompile(`__PD_[0-9a-f]{16}_(\d+)_\$\?__`).FindAllStringSubmatch(stdin, -1)
			Expect(seqs).To(HaveLen(2))
			Expect(seqs[0][1]).To(Equal("1"))
			Expect(seqs[1][1]).To(Equal("2"))
		})

		It("times out with partial output when no sentinel arrives", func() {
			result, err := sess.SendAndWait("hang", 50*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.TimedOut).To(BeTrue())
			Expect(result.ExitCode).To(Equal(-1))
		})

		It("resolves pending waiters with -1 when the stream dies", func() {
			result, err := sess.SendAndWait("die", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.TimedOut).To(BeFalse())
			Expect(result.ExitCode).To(Equal(-1))
		})
	})

	Describe("Send and Read", func() {
		It("fires and forgets; output lands in the accumulator", func() {
			Expect(sess.Send("echo background")).To(Succeed())
			Eventually(sess.Read).Should(ContainSubstring("background\n"))
		})

		It("drains the accumulator on Read", func() {
			Expect(sess.Send("echo once")).To(Succeed())
			Eventually(sess.Read).Should(ContainSubstring("once\n"))
			Expect(sess.Read()).To(BeEmpty())
		})
	})

	Describe("OnOutput", func() {
		It("invokes callbacks with output text, surviving panics", func() {
			var collected []string
			done := make(chan struct{})
			sess.OnOutput(func(data string) { panic("bad") })
			sess.OnOutput(func(data string) {
				collected = append(collected, data)
				select {
				case <-done:
				default:
					close(done)
				}
			})

			Expect(sess.Send("echo observed")).To(Succeed())
			Eventually(done).Should(BeClosed())
			Expect(strings.Join(collected, "")).To(ContainSubstring("observed"))
		})
	})

	Describe("Close", func() {
		It("fails further operations with SessionClosedError", func() {
			Expect(sess.Close()).To(Succeed())

			Expect(sess.Send("anything")).To(Equal(pocketdock.SessionClosedError{}))
			_, err := sess.SendAndWait("anything", time.Second)
			Expect(err).To(Equal(pocketdock.SessionClosedError{}))
			Expect(sess.Resize(24, 80)).To(Equal(pocketdock.SessionClosedError{}))
		})

		It("is idempotent and deregisters from the container", func() {
			Expect(sess.Close()).To(Succeed())
			Expect(sess.Close()).To(Succeed())

			ctr.mu.Lock()
			Expect(ctr.sessions).To(BeEmpty())
			ctr.mu.Unlock()
		})
	})
})
