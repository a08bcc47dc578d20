package services_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tupyy/log-collector-agent/internal/models"
	"github.com/tupyy/log-collector-agent/internal/services"
)

// flakyLister injects listing failures for chosen directories.
type flakyLister struct {
	base     services.DirLister
	failDirs map[string]error
}

func (l flakyLister) ReadDir(dir string) ([]os.FileInfo, error) {
	if err, ok := l.failDirs[dir]; ok {
		return nil, err
	}
	return l.base.ReadDir(dir)
}

var _ = Describe("Discover", func() {
	var (
		ctx    context.Context
		root   string
		source models.SourceSpec
		all    *services.Filter
	)

	writeFile := func(rel string, content string) {
		full := filepath.Join(root, filepath.FromSlash(rel))
		Expect(os.MkdirAll(filepath.Dir(full), 0o755)).To(Succeed())
		Expect(os.WriteFile(full, []byte(content), 0o644)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()
		source = models.SourceSpec{Kind: models.SourceKindLocal, RootPath: root, Label: "var-log"}

		var err error
		all, err = services.CompileFilter(models.FilterConfig{})
		Expect(err).NotTo(HaveOccurred())

		writeFile("app.log", "alpha")
		writeFile("notes.txt", "beta")
		writeFile("nested/deep/worker.log", "gamma")
	})

	It("should walk recursively and return root-relative slash paths", func() {
		entries, errs, err := services.Discover(ctx, source, all, services.LocalLister())
		Expect(err).NotTo(HaveOccurred())
		Expect(errs).To(BeEmpty())

		paths := make([]string, len(entries))
		for i, e := range entries {
			paths[i] = e.Path
		}
		Expect(paths).To(ConsistOf("app.log", "notes.txt", "nested/deep/worker.log"))
	})

	It("should record file sizes and absolute paths", func() {
		entries, _, err := services.Discover(ctx, source, all, services.LocalLister())
		Expect(err).NotTo(HaveOccurred())

		for _, e := range entries {
			Expect(e.AbsolutePath).To(HavePrefix(root))
			Expect(e.Size).To(BeNumerically(">", 0))
			Expect(e.ModifiedAt).NotTo(BeZero())
		}
	})

	It("should apply the filter to files but keep descending into directories", func() {
		filter, err := services.CompileFilter(models.FilterConfig{
			Mode:    models.FilterModePattern,
			Pattern: `\.log$`,
		})
		Expect(err).NotTo(HaveOccurred())

		entries, _, err := services.Discover(ctx, source, filter, services.LocalLister())
		Expect(err).NotTo(HaveOccurred())

		paths := make([]string, len(entries))
		for i, e := range entries {
			paths[i] = e.Path
		}
		Expect(paths).To(ConsistOf("app.log", "nested/deep/worker.log"))
	})

	It("should continue past an unreadable sub-directory and report it", func() {
		failing := filepath.Join(root, "nested", "deep")
		lister := flakyLister{
			base:     services.LocalLister(),
			failDirs: map[string]error{failing: os.ErrPermission},
		}

		entries, errs, err := services.Discover(ctx, source, all, lister)
		Expect(err).NotTo(HaveOccurred())

		paths := make([]string, len(entries))
		for i, e := range entries {
			paths[i] = e.Path
		}
		Expect(paths).To(ConsistOf("app.log", "notes.txt"))

		Expect(errs).To(HaveLen(1))
		Expect(errs[0].Recoverable).To(BeTrue())
		Expect(errs[0].Kind).To(Equal(models.ErrorKindPermission))
	})

	It("should fail when the root itself cannot be listed", func() {
		lister := flakyLister{
			base:     services.LocalLister(),
			failDirs: map[string]error{filepath.Clean(root): os.ErrPermission},
		}

		_, _, err := services.Discover(ctx, source, all, lister)
		Expect(err).To(MatchError(services.ErrRootInaccessible))
	})

	It("should stop on cancellation and return the context error", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, _, err := services.Discover(cancelled, source, all, services.LocalLister())
		Expect(err).To(MatchError(context.Canceled))
	})
})
