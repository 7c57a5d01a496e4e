package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tupyy/docjobs/internal/models"
	"github.com/tupyy/docjobs/internal/store"
	"github.com/tupyy/docjobs/internal/store/migrations"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

var _ = Describe("JobStore", func() {
	var (
		ctx context.Context
		s   *store.Store
		db  *sql.DB
		t0  time.Time
	)

	record := func(id, kind string, state models.JobState, offset time.Duration) models.JobRecord {
		return models.JobRecord{
			ID:          id,
			Kind:        kind,
			State:       state,
			DocumentURI: "file:///a.pdf",
			Priority:    "high",
			StartedAt:   t0.Add(offset),
			FinishedAt:  t0.Add(offset + time.Second),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		var err error
		db, err = store.NewDB(":memory:")
		Expect(err).NotTo(HaveOccurred())

		err = migrations.Run(ctx, db)
		Expect(err).NotTo(HaveOccurred())

		s = store.NewStore(db)
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("Record", func() {
		It("should store a job and read it back", func() {
			// Arrange
			r := record("j1", "render", models.JobStateFailed, 0)
			r.Error = "page out of range"

			// Act
			err := s.Jobs().Record(ctx, r)
			Expect(err).NotTo(HaveOccurred())
			got, err := s.Jobs().Get(ctx, "j1")

			// Assert
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Kind).To(Equal("render"))
			Expect(got.State).To(Equal(models.JobStateFailed))
			Expect(got.Error).To(Equal("page out of range"))
			Expect(got.DocumentURI).To(Equal("file:///a.pdf"))
			Expect(got.Duration()).To(Equal(time.Second))
			Expect(got.CreatedAt).NotTo(BeZero())
		})

		It("should replace the record of a job run again", func() {
			// Given a load job that failed for lack of a password
			first := record("load-1", "load", models.JobStateFailed, 0)
			first.Error = "document is encrypted"
			Expect(s.Jobs().Record(ctx, first)).To(Succeed())

			// When it is retried and succeeds
			second := record("load-1", "load", models.JobStateFinished, time.Minute)
			Expect(s.Jobs().Record(ctx, second)).To(Succeed())

			// Then only the last run is kept
			count, err := s.Jobs().Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
			got, err := s.Jobs().Get(ctx, "load-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.State).To(Equal(models.JobStateFinished))
			Expect(got.Error).To(BeEmpty())
		})

		It("should keep jobs that never started", func() {
			r := models.JobRecord{ID: "c1", Kind: "find", State: models.JobStateCancelled, Priority: "low"}

			Expect(s.Jobs().Record(ctx, r)).To(Succeed())

			got, err := s.Jobs().Get(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.StartedAt).To(BeZero())
			Expect(got.Duration()).To(BeZero())
		})
	})

	Describe("Get", func() {
		It("should return a not found error for unknown ids", func() {
			_, err := s.Jobs().Get(ctx, "missing")

			Expect(srvErrors.IsNotFoundError(err)).To(BeTrue())
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			kinds := []string{"render", "render", "thumbnail", "save", "print"}
			states := []models.JobState{
				models.JobStateFinished, models.JobStateCancelled, models.JobStateFinished,
				models.JobStateFailed, models.JobStateFinished,
			}
			for i := range kinds {
				r := record(fmt.Sprintf("j%d", i), kinds[i], states[i], time.Duration(i)*time.Minute)
				Expect(s.Jobs().Record(ctx, r)).To(Succeed())
			}
		})

		It("should list all jobs", func() {
			jobs, err := s.Jobs().List(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(5))
		})

		It("should filter by kind", func() {
			jobs, err := s.Jobs().List(ctx, store.ByKind("render"))

			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(2))
		})

		It("should filter by state", func() {
			jobs, err := s.Jobs().List(ctx, store.ByState(models.JobStateFailed, models.JobStateCancelled))

			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(2))
		})

		It("should filter by finish time", func() {
			jobs, err := s.Jobs().List(ctx, store.FinishedBetween(t0, t0.Add(2*time.Minute)))

			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(2))
		})

		It("should sort and paginate", func() {
			jobs, err := s.Jobs().List(ctx,
				store.WithSort([]store.SortParam{{Field: "startedAt", Desc: true}}),
				store.WithLimit(2),
				store.WithOffset(1),
			)

			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(2))
			Expect(jobs[0].ID).To(Equal("j3"))
			Expect(jobs[1].ID).To(Equal("j2"))
		})

		It("should ignore unknown sort fields", func() {
			jobs, err := s.Jobs().List(ctx, store.WithSort([]store.SortParam{{Field: "bogus"}}))

			Expect(err).NotTo(HaveOccurred())
			Expect(jobs[0].ID).To(Equal("j0"))
		})

		It("should count with filters", func() {
			count, err := s.Jobs().Count(ctx, store.ByKind("render", "save"))

			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(3))
		})
	})

	Describe("Prune", func() {
		It("should delete records created before the cutoff", func() {
			Expect(s.Jobs().Record(ctx, record("old", "render", models.JobStateFinished, 0))).To(Succeed())

			n, err := s.Jobs().Prune(ctx, time.Now().Add(48 * time.Hour))

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
			count, err := s.Jobs().Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})
	})
})
