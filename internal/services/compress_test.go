package services_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tupyy/log-collector-agent/internal/models"
	"github.com/tupyy/log-collector-agent/internal/services"
)

var _ = Describe("Compression", func() {
	var (
		srcDir  string
		destDir string
		entries []models.FileEntry
	)

	writeSource := func(rel, content string) models.FileEntry {
		full := filepath.Join(srcDir, filepath.FromSlash(rel))
		Expect(os.MkdirAll(filepath.Dir(full), 0o755)).To(Succeed())
		Expect(os.WriteFile(full, []byte(content), 0o644)).To(Succeed())
		return models.FileEntry{Path: rel, AbsolutePath: full, Size: int64(len(content))}
	}

	BeforeEach(func() {
		srcDir = GinkgoT().TempDir()
		destDir = GinkgoT().TempDir()
		entries = []models.FileEntry{
			writeSource("app.log", "log line one"),
			writeSource("nested/worker.log", "log line two"),
		}
	})

	Describe("ArchiveName", func() {
		It("should combine label, timestamp and extension", func() {
			ts := time.Date(2026, 8, 30, 14, 5, 9, 0, time.UTC)
			Expect(services.ArchiveName("var-log", services.ArchiveExtTarGz, ts)).
				To(Equal("var-log_20260830_140509.tar.gz"))
		})
	})

	Describe("CompressLocal", func() {
		It("should produce a zip that extracts back to identical content", func() {
			archive := filepath.Join(destDir, "out.zip")
			included, errs, err := services.CompressLocal(entries, archive)
			Expect(err).NotTo(HaveOccurred())
			Expect(errs).To(BeEmpty())
			Expect(included).To(HaveLen(2))

			extractDir := GinkgoT().TempDir()
			Expect(services.ExtractArchive(archive, extractDir)).To(Succeed())

			for _, e := range entries {
				original, err := os.ReadFile(e.AbsolutePath)
				Expect(err).NotTo(HaveOccurred())
				extracted, err := os.ReadFile(filepath.Join(extractDir, filepath.FromSlash(e.Path)))
				Expect(err).NotTo(HaveOccurred())
				Expect(extracted).To(Equal(original))
			}
		})

		It("should produce a tar.gz whose members carry the relative paths", func() {
			archive := filepath.Join(destDir, "out.tar.gz")
			_, _, err := services.CompressLocal(entries, archive)
			Expect(err).NotTo(HaveOccurred())

			members, err := services.VerifyArchive(archive)
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(ConsistOf("app.log", "nested/worker.log"))
		})

		It("should skip files that vanished since discovery", func() {
			gone := entries[0]
			Expect(os.Remove(gone.AbsolutePath)).To(Succeed())

			archive := filepath.Join(destDir, "out.zip")
			included, errs, err := services.CompressLocal(entries, archive)
			Expect(err).NotTo(HaveOccurred())

			Expect(included).To(HaveLen(1))
			Expect(included[0].Path).To(Equal("nested/worker.log"))
			Expect(errs).To(HaveLen(1))
			Expect(errs[0].FilePath).To(Equal("app.log"))
			Expect(errs[0].Recoverable).To(BeTrue())
		})

		It("should reject an unknown extension", func() {
			_, _, err := services.CompressLocal(entries, filepath.Join(destDir, "out.rar"))
			Expect(err).To(HaveOccurred())
		})

		It("should not leave a partial archive behind on unknown extension", func() {
			_, _, _ = services.CompressLocal(entries, filepath.Join(destDir, "out.rar"))
			files, err := os.ReadDir(destDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(BeEmpty())
		})
	})

	Describe("CompressRemote", func() {
		It("should report ErrRemoteCommandFailed on a non-zero exit", func() {
			ch := &fakeChannel{failRun: true}
			err := services.CompressRemote(context.Background(), ch,
				"tar -czf {{archive}} -C {{dir}} {{files}}",
				srcDir, entries, "/tmp/out.tar.gz")
			Expect(err).To(MatchError(services.ErrRemoteCommandFailed))
		})

		It("should succeed when the command exits zero", func() {
			ch := &fakeChannel{}
			archive := filepath.Join(destDir, "out.tar.gz")
			err := services.CompressRemote(context.Background(), ch,
				"tar -czf {{archive}} -C {{dir}} {{files}}",
				srcDir, entries, archive)
			Expect(err).NotTo(HaveOccurred())

			members, err := services.VerifyArchive(archive)
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(HaveLen(len(entries)))
		})
	})

	Describe("VerifyArchive", func() {
		It("should fail on a truncated archive", func() {
			archive := filepath.Join(destDir, "out.tar.gz")
			_, _, err := services.CompressLocal(entries, archive)
			Expect(err).NotTo(HaveOccurred())

			data, err := os.ReadFile(archive)
			Expect(err).NotTo(HaveOccurred())
			Expect(os.WriteFile(archive, data[:len(data)/2], 0o644)).To(Succeed())

			_, err = services.VerifyArchive(archive)
			Expect(err).To(HaveOccurred())
		})
	})
})
