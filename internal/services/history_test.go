package services_test

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tupyy/docjobs/internal/models"
	"github.com/tupyy/docjobs/internal/services"
	"github.com/tupyy/docjobs/internal/store"
	"github.com/tupyy/docjobs/internal/store/migrations"
)

var _ = Describe("HistoryService", func() {
	var (
		ctx     context.Context
		db      *sql.DB
		history *services.HistoryService
		t0      time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		var err error
		db, err = store.NewDB(":memory:")
		Expect(err).NotTo(HaveOccurred())
		Expect(migrations.Run(ctx, db)).To(Succeed())

		history = services.NewHistoryService(store.NewStore(db))

		// Arrange: 6 renders on a.pdf, two of them failed, and one save on b.pdf
		for i := range 6 {
			state := models.JobStateFinished
			if i%3 == 0 {
				state = models.JobStateFailed
			}
			Expect(history.Record(ctx, models.JobRecord{
				ID:          fmt.Sprintf("render-%d", i),
				Kind:        "render",
				State:       state,
				DocumentURI: "file:///a.pdf",
				Priority:    "urgent",
				StartedAt:   t0.Add(time.Duration(i) * time.Minute),
				FinishedAt:  t0.Add(time.Duration(i)*time.Minute + time.Second),
			})).To(Succeed())
		}
		Expect(history.Record(ctx, models.JobRecord{
			ID:          "save-0",
			Kind:        "save",
			State:       models.JobStateFinished,
			DocumentURI: "file:///b.pdf",
			Priority:    "urgent",
			StartedAt:   t0.Add(time.Hour),
			FinishedAt:  t0.Add(time.Hour + time.Second),
		})).To(Succeed())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	It("should list every record without filters", func() {
		res, err := history.List(ctx, services.HistoryListParams{})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Jobs).To(HaveLen(7))
		Expect(res.Total).To(Equal(7))
	})

	It("should filter by kind and state", func() {
		res, err := history.List(ctx, services.HistoryListParams{
			Kinds:  []string{"render"},
			States: []models.JobState{models.JobStateFailed},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Total).To(Equal(2))
		Expect(res.Jobs).To(ConsistOf(
			HaveField("ID", "render-0"),
			HaveField("ID", "render-3"),
		))
	})

	It("should filter by document", func() {
		res, err := history.List(ctx, services.HistoryListParams{Document: "file:///b.pdf"})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Jobs).To(HaveLen(1))
		Expect(res.Jobs[0].Kind).To(Equal("save"))
	})

	It("should keep jobs finished since a time", func() {
		res, err := history.List(ctx, services.HistoryListParams{Since: t0.Add(30 * time.Minute)})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Jobs).To(HaveLen(1))
		Expect(res.Jobs[0].ID).To(Equal("save-0"))
	})

	// Given 7 records
	// When a sorted page of 3 is requested
	// Then the page holds 3 records and the total counts all 7
	It("should paginate and report the unpaginated total", func() {
		res, err := history.List(ctx, services.HistoryListParams{
			Sort:   []store.SortParam{{Field: "startedAt", Desc: true}},
			Limit:  3,
			Offset: 1,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Total).To(Equal(7))
		Expect(res.Jobs).To(HaveLen(3))
		Expect(res.Jobs[0].ID).To(Equal("render-5"))
		Expect(res.Jobs[2].ID).To(Equal("render-3"))
	})

	It("should prune records older than an age", func() {
		n, err := history.Prune(ctx, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		// a negative age moves the cutoff past every record
		n, err = history.Prune(ctx, -48*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(7)))

		res, err := history.List(ctx, services.HistoryListParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Total).To(BeZero())
	})
})
