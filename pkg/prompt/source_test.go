package prompt_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/prompt"
)

var _ = Describe("Source", func() {
	var (
		dir  string
		path string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "prompt.txt")
	})

	write := func(text string) {
		Expect(os.WriteFile(path, []byte(text), 0o600)).To(Succeed())
	}

	Describe("NewStatic", func() {
		It("supplies its text", func() {
			src := prompt.NewStatic("You are terse.")
			Expect(src.Current()).To(Equal("You are terse."))
			Expect(src.Path()).To(BeEmpty())
			Expect(src.Reload()).To(Succeed())
			Expect(src.Current()).To(Equal("You are terse."))
		})

		It("waits for the context when watched", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- prompt.NewStatic("x").Watch(ctx)
			}()

			Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	Describe("NewFileSource", func() {
		It("reads and trims the file", func() {
			write("\n  Answer in French.\n\n")
			src, err := prompt.NewFileSource(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(src.Current()).To(Equal("Answer in French."))
			Expect(src.Path()).To(Equal(path))
		})

		It("treats an empty file as no prompt", func() {
			write(" \n")
			src, err := prompt.NewFileSource(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(src.Current()).To(BeEmpty())
		})

		It("fails for a missing file", func() {
			_, err := prompt.NewFileSource(path)
			Expect(err).To(MatchError(os.ErrNotExist))
		})

		It("keeps the previous prompt when a reload fails", func() {
			write("first")
			src, err := prompt.NewFileSource(path)
			Expect(err).NotTo(HaveOccurred())

			Expect(os.Remove(path)).To(Succeed())
			Expect(src.Reload()).To(MatchError(os.ErrNotExist))
			Expect(src.Current()).To(Equal("first"))

			write("second")
			Expect(src.Reload()).To(Succeed())
			Expect(src.Current()).To(Equal("second"))
		})
	})

	Describe("Watch", func() {
		var (
			src  *prompt.Source
			stop context.CancelFunc
			done chan error
		)

		BeforeEach(func() {
			write("first")
			var err error
			src, err = prompt.NewFileSource(path, prompt.WithDebounce(10*time.Millisecond))
			Expect(err).NotTo(HaveOccurred())

			var ctx context.Context
			ctx, stop = context.WithCancel(context.Background())
			done = make(chan error, 1)
			go func() {
				done <- src.Watch(ctx)
			}()
		})

		AfterEach(func() {
			stop()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("reloads when the file is written", func() {
			// Writes repeat until the watcher has been added and reloads.
			Eventually(func() string {
				write("second")
				return src.Current()
			}, 2*time.Second, 50*time.Millisecond).Should(Equal("second"))
		})

		It("reloads when a file is renamed over it", func() {
			tmp := filepath.Join(dir, "prompt.txt.tmp")
			Eventually(func() string {
				Expect(os.WriteFile(tmp, []byte("replaced"), 0o600)).To(Succeed())
				Expect(os.Rename(tmp, path)).To(Succeed())
				return src.Current()
			}, 2*time.Second, 50*time.Millisecond).Should(Equal("replaced"))
		})

		It("ignores other files in the directory", func() {
			other := filepath.Join(dir, "notes.txt")
			for range 5 {
				Expect(os.WriteFile(other, []byte("noise"), 0o600)).To(Succeed())
			}
			Consistently(src.Current, 100*time.Millisecond).Should(Equal("first"))
		})

		It("keeps the prompt while the file is missing", func() {
			Expect(os.Remove(path)).To(Succeed())
			Consistently(src.Current, 100*time.Millisecond).Should(Equal("first"))

			Eventually(func() string {
				write("back")
				return src.Current()
			}, 2*time.Second, 50*time.Millisecond).Should(Equal("back"))
		})
	})
})
