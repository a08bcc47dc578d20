package store_test

import (
	"context"
	"database/sql"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tupyy/log-collector-agent/internal/models"
	"github.com/tupyy/log-collector-agent/internal/store"
	"github.com/tupyy/log-collector-agent/internal/store/migrations"
)

var _ = Describe("JobsStore", func() {
	var (
		ctx context.Context
		s   *store.Store
		db  *sql.DB
	)

	newJob := func(id string, startedAt time.Time) *models.CollectionJob {
		return &models.CollectionJob{
			ID: id,
			Sources: []models.SourceSpec{
				{Kind: models.SourceKindRemote, RootPath: "/var/log", Label: "var-log"},
			},
			Filter:           models.FilterConfig{Mode: models.FilterModePattern, Pattern: `\.log$`},
			SelectedPaths:    []string{"app.log", "nested/worker.log"},
			Compress:         true,
			DestinationRoot:  "/data/collected",
			Status:           models.JobStatusCompleted,
			Phase:            models.JobPhaseFinalizing,
			TotalFiles:       10,
			CollectedFiles:   9,
			FailedFiles:      1,
			TransferredBytes: 4096,
			TotalBytes:       5000,
			StartedAt:        startedAt,
			FinishedAt:       startedAt.Add(time.Minute),
			Artifacts:        []string{"/data/collected/var-log_20260830_120000.tar.gz"},
			Errors: []models.CollectionError{
				{FilePath: "secure.log", Kind: models.ErrorKindPermission, Message: "permission denied", Recoverable: true},
			},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		db, err = store.NewDB(":memory:")
		Expect(err).NotTo(HaveOccurred())

		err = migrations.Run(ctx, db)
		Expect(err).NotTo(HaveOccurred())

		s = store.NewStore(db)
	})

	AfterEach(func() {
		if db != nil {
			_ = db.Close()
		}
	})

	Describe("Insert and Get", func() {
		It("should round-trip a finished job including JSON columns", func() {
			job := newJob("job-1", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
			Expect(s.Jobs().Insert(ctx, job)).To(Succeed())

			retrieved, err := s.Jobs().Get(ctx, "job-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.Status).To(Equal(models.JobStatusCompleted))
			Expect(retrieved.Compress).To(BeTrue())
			Expect(retrieved.TotalFiles).To(Equal(10))
			Expect(retrieved.CollectedFiles).To(Equal(9))
			Expect(retrieved.TransferredBytes).To(Equal(int64(4096)))

			Expect(retrieved.Sources).To(HaveLen(1))
			Expect(retrieved.Sources[0].Label).To(Equal("var-log"))
			Expect(retrieved.Filter.Pattern).To(Equal(`\.log$`))
			Expect(retrieved.SelectedPaths).To(Equal([]string{"app.log", "nested/worker.log"}))
			Expect(retrieved.Artifacts).To(HaveLen(1))
			Expect(retrieved.Errors).To(HaveLen(1))
			Expect(retrieved.Errors[0].Kind).To(Equal(models.ErrorKindPermission))
		})

		It("should return ErrNotFound for an unknown id", func() {
			_, err := s.Jobs().Get(ctx, "nope")
			Expect(err).To(Equal(store.ErrNotFound))
		})
	})

	Describe("List", func() {
		It("should return jobs newest first", func() {
			base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
			Expect(s.Jobs().Insert(ctx, newJob("job-old", base))).To(Succeed())
			Expect(s.Jobs().Insert(ctx, newJob("job-new", base.Add(time.Hour)))).To(Succeed())

			jobs, err := s.Jobs().List(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(2))
			Expect(jobs[0].ID).To(Equal("job-new"))
			Expect(jobs[1].ID).To(Equal("job-old"))
		})

		It("should honor the limit", func() {
			base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
			for i, id := range []string{"a", "b", "c"} {
				Expect(s.Jobs().Insert(ctx, newJob(id, base.Add(time.Duration(i)*time.Minute)))).To(Succeed())
			}

			jobs, err := s.Jobs().List(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(2))
		})
	})
})
