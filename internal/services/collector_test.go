package services_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tupyy/log-collector-agent/internal/config"
	"github.com/tupyy/log-collector-agent/internal/models"
	"github.com/tupyy/log-collector-agent/internal/services"
	"github.com/tupyy/log-collector-agent/pkg/events"
	"github.com/tupyy/log-collector-agent/pkg/scheduler"
)

var _ = Describe("CollectorService", func() {
	var (
		ctx      context.Context
		cfg      config.Collector
		sched    *scheduler.Scheduler
		bus      *events.Bus
		session  *fakeSession
		srv      *services.CollectorService
		srcDir   string
		destRoot string
	)

	writeSource := func(rel, content string) {
		full := filepath.Join(srcDir, filepath.FromSlash(rel))
		Expect(os.MkdirAll(filepath.Dir(full), 0o755)).To(Succeed())
		Expect(os.WriteFile(full, []byte(content), 0o644)).To(Succeed())
	}

	localSource := func() models.SourceSpec {
		return models.SourceSpec{Kind: models.SourceKindLocal, RootPath: srcDir, Label: "var-log"}
	}

	remoteSource := func() models.SourceSpec {
		return models.SourceSpec{Kind: models.SourceKindRemote, RootPath: srcDir, Label: "var-log"}
	}

	waitForStatus := func(expected models.JobStatus) models.CollectionJob {
		var job models.CollectionJob
		Eventually(func() models.JobStatus {
			j, ok := srv.Status()
			if !ok {
				return ""
			}
			job = j
			return j.Status
		}, "10s", "20ms").Should(Equal(expected))
		return job
	}

	BeforeEach(func() {
		ctx = context.Background()
		srcDir = GinkgoT().TempDir()
		destRoot = GinkgoT().TempDir()

		cfg = config.Collector{
			DestinationRoot: destRoot,
			RemoteTempDir:   GinkgoT().TempDir(),
			ArchiveCommand:  "tar -czf {{archive}} -C {{dir}} {{files}}",
			CommandTimeout:  time.Minute,
			NumWorkers:      1,
		}

		sched = scheduler.NewScheduler(1)
		bus = events.NewBus()
		session = &fakeSession{ch: &fakeChannel{}, state: models.SessionStateConnected}
		srv = services.NewCollectorService(cfg, sched, session, nil, bus)

		writeSource("app.log", "first log line")
		writeSource("nested/worker.log", "second log line")
	})

	AfterEach(func() {
		sched.Close()
	})

	Describe("Start", func() {
		It("should reject a request without sources", func() {
			_, err := srv.Start(ctx, services.CollectionRequest{})
			Expect(err).To(MatchError(services.ErrNoSources))
		})

		It("should reject an invalid filter before scheduling anything", func() {
			_, err := srv.Start(ctx, services.CollectionRequest{
				Sources: []models.SourceSpec{localSource()},
				Filter:  models.FilterConfig{Mode: models.FilterModePattern, Pattern: "(["},
			})
			Expect(err).To(HaveOccurred())
			_, ok := srv.Status()
			Expect(ok).To(BeFalse())
		})

		It("should reject a remote source when the session is not connected", func() {
			session.state = models.SessionStateDisconnected
			_, err := srv.Start(ctx, services.CollectionRequest{
				Sources: []models.SourceSpec{remoteSource()},
			})
			Expect(err).To(MatchError(services.ErrChannelUnavailable))
		})

		It("should reject a second job while one is running", func() {
			gate := make(chan struct{})
			session.ch = &fakeChannel{readDirGate: gate}

			_, err := srv.Start(ctx, services.CollectionRequest{Sources: []models.SourceSpec{remoteSource()}})
			Expect(err).NotTo(HaveOccurred())

			_, err = srv.Start(ctx, services.CollectionRequest{Sources: []models.SourceSpec{localSource()}})
			Expect(err).To(MatchError(services.ErrCollectionInProgress))

			close(gate)
			waitForStatus(models.JobStatusCompleted)
		})
	})

	Describe("local per-file collection", func() {
		It("should copy every file under a timestamped destination folder", func() {
			jobID, err := srv.Start(ctx, services.CollectionRequest{
				Sources: []models.SourceSpec{localSource()},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(jobID).NotTo(BeEmpty())

			job := waitForStatus(models.JobStatusCompleted)
			Expect(job.ID).To(Equal(jobID))
			Expect(job.TotalFiles).To(Equal(2))
			Expect(job.CollectedFiles).To(Equal(2))
			Expect(job.FailedFiles).To(BeZero())
			Expect(job.TransferredBytes).To(Equal(job.TotalBytes))

			base := filepath.Join(destRoot, job.StartedAt.Format("20060102_150405"), "var-log")
			for _, rel := range []string{"app.log", "nested/worker.log"} {
				copied, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(rel)))
				Expect(err).NotTo(HaveOccurred())
				original, err := os.ReadFile(filepath.Join(srcDir, filepath.FromSlash(rel)))
				Expect(err).NotTo(HaveOccurred())
				Expect(copied).To(Equal(original))
			}
		})

		It("should apply the filter", func() {
			writeSource("skip.txt", "not a log")

			_, err := srv.Start(ctx, services.CollectionRequest{
				Sources: []models.SourceSpec{localSource()},
				Filter:  models.FilterConfig{Mode: models.FilterModePattern, Pattern: `\.log$`},
			})
			Expect(err).NotTo(HaveOccurred())

			job := waitForStatus(models.JobStatusCompleted)
			Expect(job.TotalFiles).To(Equal(2))
			Expect(job.CollectedFiles).To(Equal(2))
		})

		It("should collect only the selected paths and report the missing ones", func() {
			_, err := srv.Start(ctx, services.CollectionRequest{
				Sources: []models.SourceSpec{localSource()},
				Paths:   []string{"app.log", "missing.log"},
			})
			Expect(err).NotTo(HaveOccurred())

			job := waitForStatus(models.JobStatusCompleted)
			Expect(job.TotalFiles).To(Equal(1))
			Expect(job.CollectedFiles).To(Equal(1))

			Expect(job.Errors).To(HaveLen(1))
			Expect(job.Errors[0].FilePath).To(Equal("missing.log"))
			Expect(job.Errors[0].Kind).To(Equal(models.ErrorKindDiscovery))
			Expect(job.Errors[0].Recoverable).To(BeTrue())

			base := filepath.Join(destRoot, job.StartedAt.Format("20060102_150405"), "var-log")
			_, err = os.Stat(filepath.Join(base, "app.log"))
			Expect(err).NotTo(HaveOccurred())
			_, err = os.Stat(filepath.Join(base, "nested", "worker.log"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("should publish progress and completion events", func() {
			ch, unsubscribe := bus.Subscribe(64)
			defer unsubscribe()

			_, err := srv.Start(ctx, services.CollectionRequest{
				Sources: []models.SourceSpec{localSource()},
			})
			Expect(err).NotTo(HaveOccurred())
			waitForStatus(models.JobStatusCompleted)

			var seen []events.Type
			Eventually(func() []events.Type {
				for {
					select {
					case ev := <-ch:
						seen = append(seen, ev.Type)
					default:
						return seen
					}
				}
			}, "2s", "20ms").Should(ContainElements(events.TypeJobProgress, events.TypeJobCompleted))
		})
	})

	Describe("local compressed collection", func() {
		It("should write a verified zip artifact", func() {
			_, err := srv.Start(ctx, services.CollectionRequest{
				Sources:  []models.SourceSpec{localSource()},
				Compress: true,
			})
			Expect(err).NotTo(HaveOccurred())

			job := waitForStatus(models.JobStatusCompleted)
			Expect(job.Artifacts).To(HaveLen(1))
			Expect(job.Artifacts[0]).To(HaveSuffix(".zip"))

			members, err := services.VerifyArchive(job.Artifacts[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(ConsistOf("app.log", "nested/worker.log"))
		})

		It("should delete source files only after the archive is verified", func() {
			_, err := srv.Start(ctx, services.CollectionRequest{
				Sources:            []models.SourceSpec{localSource()},
				Compress:           true,
				DeleteAfterCollect: true,
			})
			Expect(err).NotTo(HaveOccurred())
			waitForStatus(models.JobStatusCompleted)

			_, err = os.Stat(filepath.Join(srcDir, "app.log"))
			Expect(os.IsNotExist(err)).To(BeTrue())
			_, err = os.Stat(filepath.Join(srcDir, "nested", "worker.log"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Describe("remote compressed collection", func() {
		It("should download a single verified archive built on the remote host", func() {
			ch := &fakeChannel{}
			session.ch = ch

			_, err := srv.Start(ctx, services.CollectionRequest{
				Sources:  []models.SourceSpec{remoteSource()},
				Compress: true,
			})
			Expect(err).NotTo(HaveOccurred())

			job := waitForStatus(models.JobStatusCompleted)
			Expect(job.Artifacts).To(HaveLen(1))
			Expect(job.Artifacts[0]).To(HaveSuffix(".tar.gz"))
			Expect(job.CollectedFiles).To(Equal(2))
			Expect(job.TransferredBytes).To(Equal(job.TotalBytes))

			members, err := services.VerifyArchive(job.Artifacts[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(ConsistOf("app.log", "nested/worker.log"))

			// One archive command, one download, no per-file transfers.
			Expect(ch.ranCommands()).To(HaveLen(1))
			opened := ch.openedPaths()
			Expect(opened).To(HaveLen(1))
			Expect(opened[0]).To(HaveSuffix(".tar.gz"))

			// The staged remote archive is cleaned up after the download.
			leftovers, err := os.ReadDir(cfg.RemoteTempDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(leftovers).To(BeEmpty())
		})

		It("should fall back to per-file transfer when the remote command fails", func() {
			session.ch = &fakeChannel{failRun: true}

			_, err := srv.Start(ctx, services.CollectionRequest{
				Sources:  []models.SourceSpec{remoteSource()},
				Compress: true,
			})
			Expect(err).NotTo(HaveOccurred())

			job := waitForStatus(models.JobStatusCompleted)
			Expect(job.CollectedFiles).To(Equal(2))
			Expect(job.Artifacts).To(BeEmpty())

			var kinds []models.ErrorKind
			for _, e := range job.Errors {
				kinds = append(kinds, e.Kind)
			}
			Expect(kinds).To(ContainElement(models.ErrorKindCompression))
			for _, e := range job.Errors {
				Expect(e.Recoverable).To(BeTrue())
			}
		})
	})

	Describe("Cancel", func() {
		It("should report no active job when nothing runs", func() {
			Expect(srv.Cancel("")).To(MatchError(services.ErrNoActiveJob))
		})

		It("should cancel a running job", func() {
			gate := make(chan struct{})
			session.ch = &fakeChannel{readDirGate: gate}

			jobID, err := srv.Start(ctx, services.CollectionRequest{Sources: []models.SourceSpec{remoteSource()}})
			Expect(err).NotTo(HaveOccurred())

			Expect(srv.Cancel(jobID)).To(Succeed())
			close(gate)

			job := waitForStatus(models.JobStatusCancelled)
			Expect(job.Status.IsTerminal()).To(BeTrue())
		})

		It("should not delete any source file after a mid-transfer cancellation", func() {
			gate := make(chan struct{})
			ch := &fakeChannel{readDirGate: gate}
			session.ch = ch

			jobID, err := srv.Start(ctx, services.CollectionRequest{
				Sources:            []models.SourceSpec{remoteSource()},
				DeleteAfterCollect: true,
			})
			Expect(err).NotTo(HaveOccurred())

			// The hook runs on the job worker; no assertions there.
			var once sync.Once
			ch.openHook = func(string) {
				once.Do(func() { _ = srv.Cancel(jobID) })
			}
			close(gate)

			job := waitForStatus(models.JobStatusCancelled)
			// The in-flight file runs to completion; the rest is skipped.
			Expect(job.CollectedFiles).To(Equal(1))

			_, err = os.Stat(filepath.Join(srcDir, "app.log"))
			Expect(err).NotTo(HaveOccurred())
			_, err = os.Stat(filepath.Join(srcDir, "nested", "worker.log"))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("ListFiles", func() {
		It("should list local files through the filter", func() {
			writeSource("skip.txt", "nope")

			entries, errs, err := srv.ListFiles(ctx, localSource(), models.FilterConfig{
				Mode: models.FilterModePattern, Pattern: `\.log$`,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(errs).To(BeEmpty())
			Expect(entries).To(HaveLen(2))
		})

		It("should list remote files through the session channel", func() {
			entries, _, err := srv.ListFiles(ctx, remoteSource(), models.FilterConfig{})
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
		})
	})

	Describe("DeleteFiles", func() {
		It("should delete the given files and count failures", func() {
			deleted, failed, err := srv.DeleteFiles(ctx, localSource(), []string{
				filepath.Join(srcDir, "app.log"),
				filepath.Join(srcDir, "missing.log"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(1))
			Expect(failed).To(Equal(1))
		})

		It("should refuse paths outside the source root", func() {
			_, _, err := srv.DeleteFiles(ctx, localSource(), []string{"/etc/passwd"})
			Expect(err).To(HaveOccurred())
		})

		It("should refuse a sibling directory sharing the root as a string prefix", func() {
			evilDir := srcDir + "-old"
			Expect(os.MkdirAll(evilDir, 0o755)).To(Succeed())
			DeferCleanup(func() { _ = os.RemoveAll(evilDir) })

			precious := filepath.Join(evilDir, "precious.txt")
			Expect(os.WriteFile(precious, []byte("keep me"), 0o644)).To(Succeed())

			deleted, _, err := srv.DeleteFiles(ctx, localSource(), []string{precious})
			Expect(err).To(HaveOccurred())
			Expect(deleted).To(BeZero())

			_, err = os.Stat(precious)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
