package jobs_test

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/pgzip"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
	"github.com/tupyy/docjobs/pkg/eventloop"
	"github.com/tupyy/docjobs/pkg/jobs"
	"github.com/tupyy/docjobs/test"
)

var _ = Describe("Job kinds", func() {
	var (
		engine *test.FakeEngine
		h      *document.Handle
		loop   *eventloop.Loop
		tmpDir string
	)

	newRC := func() *jobs.RunContext {
		return &jobs.RunContext{
			Dispatcher: loop,
			Locks:      document.NewLocks(),
			Factory:    engine,
			TempDir:    tmpDir,
		}
	}

	BeforeEach(func() {
		engine = test.NewFakeEngine(10)
		h = engine.NewHandle("file:///doc.pdf")
		loop = eventloop.New()
		tmpDir = GinkgoT().TempDir()
	})

	Describe("Render", func() {
		It("should render the page at the requested scale and rotation", func() {
			j := jobs.NewRenderJob(h, jobs.RenderParams{Page: 2, Rotation: 450, Scale: 0.5})

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(j.Params().Rotation).To(Equal(90))
			surface := j.Result().Surface
			Expect(surface.Bounds()).To(Equal(image.Rect(0, 0, 396, 306)))
			Expect(surface.RGBAAt(10, 10)).To(Equal(test.PageColor(2)))
		})

		// Given two renders of the same page with the same parameters
		// When they run back to back
		// Then the surfaces are identical
		It("should be deterministic across back-to-back renders", func() {
			params := jobs.RenderParams{Page: 3, Scale: 0.25}
			first := jobs.NewRenderJob(h, params)
			second := jobs.NewRenderJob(h, params)

			jobs.Execute(first, newRC())
			jobs.Execute(second, newRC())

			Expect(first.Result().Surface.Pix).To(Equal(second.Result().Surface.Pix))
			Expect(first.Result().Surface).NotTo(BeIdenticalTo(second.Result().Surface))
		})

		It("should post OnPageReady on the loop", func() {
			j := jobs.NewRenderJob(h, jobs.RenderParams{Page: 0})
			ready := 0
			j.OnPageReady(func(*jobs.RenderJob) { ready++ })

			jobs.Execute(j, newRC())
			Expect(ready).To(Equal(0))
			loop.RunPending()

			Expect(ready).To(Equal(1))
		})

		It("should map page-space areas to screen space", func() {
			engine.Links = map[int][]document.Mapping[document.Link]{
				1: {{Area: document.Rect{X0: 10, Y0: 20, X1: 30, Y1: 40}, Data: document.Link{URI: "https://example.com", Page: -1}}},
			}
			engine.Texts = map[int]string{1: "ab"}
			j := jobs.NewRenderJob(h, jobs.RenderParams{
				Page:  1,
				Scale: 2,
				Flags: jobs.RenderLinks | jobs.RenderText | jobs.RenderForms,
			})

			jobs.Execute(j, newRC())

			res := j.Result()
			Expect(res.Links).To(HaveLen(1))
			Expect(res.Links[0].Area).To(Equal(document.Rect{X0: 20, Y0: 40, X1: 60, Y1: 80}))
			Expect(res.Links[0].Data.URI).To(Equal("https://example.com"))
			Expect(res.Text).To(HaveLen(2))
			Expect(res.Text[1].Area).To(Equal(document.Rect{X0: 20, Y0: 0, X1: 40, Y1: 24}))
			Expect(res.Forms).To(BeEmpty())
			Expect(res.Images).To(BeEmpty())
		})

		DescribeTable("selection styles",
			func(style jobs.SelectionStyle, want []document.Rect) {
				engine.Texts = map[int]string{0: "ab cd"}
				j := jobs.NewRenderJob(h, jobs.RenderParams{
					Page:      0,
					Selection: &jobs.Selection{Rect: document.Rect{X0: 1, Y0: 1, X1: 4, Y1: 4}, Style: style},
				})

				jobs.Execute(j, newRC())

				Expect(j.Result().SelectionRegion).To(Equal(want))
				Expect(j.Result().SelectionSurface).NotTo(BeNil())
			},
			Entry("glyph", jobs.SelectGlyph, []document.Rect{{X0: 0, Y0: 0, X1: 10, Y1: 12}}),
			Entry("word", jobs.SelectWord, []document.Rect{{X0: 0, Y0: 0, X1: 20, Y1: 12}}),
			Entry("line", jobs.SelectLine, []document.Rect{{X0: 0, Y0: 0, X1: 50, Y1: 12}}),
		)

		It("should fail when the render call fails", func() {
			engine.RenderErr = srvErrors.NewInvalidDocumentError("file:///doc.pdf", nil)
			j := jobs.NewRenderJob(h, jobs.RenderParams{Page: 0})

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFailed))
			Expect(srvErrors.IsInvalidDocumentError(j.Err())).To(BeTrue())
		})

		// Given an engine that renders on its own goroutine
		// When the render job runs
		// Then the worker is released and the engine callback finishes the job
		It("should detach and finish from the engine callback", func() {
			engine.Async = true
			async := engine.NewHandle("file:///async.pdf")
			j := jobs.NewRenderJob(async, jobs.RenderParams{Page: 1})

			requeue := jobs.Execute(j, newRC())

			Expect(requeue).To(BeFalse())
			Eventually(j.Done(), time.Second).Should(BeClosed())
			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(j.Result().Surface.RGBAAt(0, 0)).To(Equal(test.PageColor(1)))
		})
	})

	Describe("Thumbnail", func() {
		DescribeTable("aspect-preserving size",
			func(rotation int, border bool, width, height int) {
				j := jobs.NewThumbnailJob(h, jobs.ThumbnailParams{Page: 0, Rotation: rotation, Scale: 0.25, Border: border})

				jobs.Execute(j, newRC())

				Expect(j.State()).To(Equal(jobs.StateFinished))
				Expect(j.Result().Surface.Bounds()).To(Equal(image.Rect(0, 0, width, height)))
			},
			Entry("portrait", 0, false, 153, 198),
			Entry("rotated", 270, false, 198, 153),
			Entry("with border", 0, true, 155, 200),
		)
	})

	Describe("Load", func() {
		It("should open the document through the factory", func() {
			j := jobs.NewLoadJob(jobs.LoadParams{URI: "file:///missing.pdf"})

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(j.Handle()).NotTo(BeNil())
			Expect(j.Handle().Backend().PageCount()).To(Equal(10))
			Expect(j.Handle().Refs()).To(Equal(1))
		})

		// Given an encrypted document
		// When it is loaded without a password and then with the right one
		// Then the first run asks for a password and the same job succeeds on rerun
		It("should retry the same job after a password is supplied", func() {
			// Arrange
			engine.Password = "secret"
			j := jobs.NewLoadJob(jobs.LoadParams{URI: "file:///locked.pdf"})

			// Act
			jobs.Execute(j, newRC())

			// Assert
			Expect(j.State()).To(Equal(jobs.StateFailed))
			Expect(srvErrors.IsEncryptedDocumentError(j.Err())).To(BeTrue())

			Expect(j.SetPassword("wrong")).To(BeTrue())
			Expect(j.State()).To(Equal(jobs.StatePending))
			jobs.Execute(j, newRC())
			var encErr *srvErrors.EncryptedDocumentError
			Expect(j.Err()).To(BeAssignableToTypeOf(encErr))
			Expect(j.Err().(*srvErrors.EncryptedDocumentError).WrongPassword).To(BeTrue())

			Expect(j.SetPassword("secret")).To(BeTrue())
			jobs.Execute(j, newRC())
			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(j.Handle()).NotTo(BeNil())
		})

		It("should reload an open handle in place", func() {
			j := jobs.NewReloadJob(h, jobs.LoadParams{URI: "file:///renamed.pdf"})

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(j.Handle()).To(BeIdenticalTo(h))
			Expect(h.URI()).To(Equal("file:///renamed.pdf"))
		})

		It("should not leak the handle of a cancelled load", func() {
			j := jobs.NewLoadJob(jobs.LoadParams{URI: "file:///doc.pdf"})
			rc := newRC()
			rc.Factory = &cancelAfterOpen{Factory: engine, job: j}

			jobs.Execute(j, rc)

			Expect(j.State()).To(Equal(jobs.StateCancelled))
			Expect(j.Handle()).To(BeNil())
			Expect(engine.Closed()).To(Equal(1))
		})
	})

	Describe("Save", func() {
		// Given a loaded document
		// When it is saved and the result is opened again
		// Then the reopened document has the same pages
		It("should round-trip through save and load", func() {
			// Arrange
			engine.Pages = []document.Size{{Width: 100, Height: 200}, {Width: 300, Height: 400}}
			doc := engine.NewHandle("file:///orig.pdf")
			dest := filepath.Join(GinkgoT().TempDir(), "out.pdf")
			j := jobs.NewSaveJob(doc, jobs.SaveParams{DestURI: document.FileURI(dest), OriginalURI: "file:///orig.pdf"})

			// Act
			jobs.Execute(j, newRC())

			// Assert
			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(j.Result().Path).To(Equal(dest))
			Expect(dest + ".partial").NotTo(BeAnExistingFile())

			engine.Pages = nil
			reopened, err := engine.Open(context.Background(), document.FileURI(dest), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(reopened.PageCount()).To(Equal(2))
			size, err := reopened.PageSize(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(size).To(Equal(document.Size{Width: 300, Height: 400}))

			entries, err := os.ReadDir(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("should compress the output when the original was gzip", func() {
			original := filepath.Join(GinkgoT().TempDir(), "orig.pdf.gz")
			f, err := os.Create(original)
			Expect(err).NotTo(HaveOccurred())
			zw := pgzip.NewWriter(f)
			_, err = zw.Write([]byte("%PDF-1.7 fake"))
			Expect(err).NotTo(HaveOccurred())
			Expect(zw.Close()).To(Succeed())
			Expect(f.Close()).To(Succeed())

			dest := filepath.Join(GinkgoT().TempDir(), "out.pdf.gz")
			j := jobs.NewSaveJob(h, jobs.SaveParams{DestURI: dest, OriginalURI: document.FileURI(original)})

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(j.Result().Compressed).To(BeTrue())
			mt, err := mimetype.DetectFile(dest)
			Expect(err).NotTo(HaveOccurred())
			Expect(mt.Is("application/gzip")).To(BeTrue())
		})

		It("should fail with an IO error and leave nothing behind", func() {
			blocker := filepath.Join(GinkgoT().TempDir(), "file")
			Expect(os.WriteFile(blocker, []byte("x"), 0o644)).To(Succeed())
			j := jobs.NewSaveJob(h, jobs.SaveParams{DestURI: filepath.Join(blocker, "out.pdf")})

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFailed))
			Expect(srvErrors.IsIOError(j.Err())).To(BeTrue())
			entries, err := os.ReadDir(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	Describe("Print", func() {
		DescribeTable("PageList",
			func(ranges []jobs.PageRange, set jobs.PageSet, nPages int, expected []int) {
				Expect(jobs.PageList(ranges, set, nPages)).To(Equal(expected))
			},
			Entry("closed and open ranges", []jobs.PageRange{{Start: 0, End: 2}, {Start: 5, End: -1}}, jobs.PageSetAll, 10, []int{0, 1, 2, 5, 6, 7, 8, 9}),
			Entry("odd pages", []jobs.PageRange{{Start: 0, End: 9}}, jobs.PageSetOdd, 10, []int{0, 2, 4, 6, 8}),
			Entry("even pages", []jobs.PageRange{{Start: 0, End: 9}}, jobs.PageSetEven, 10, []int{1, 3, 5, 7, 9}),
			Entry("range past the last page", []jobs.PageRange{{Start: 3, End: 42}}, jobs.PageSetAll, 5, []int{3, 4}),
			Entry("no ranges means every page", nil, jobs.PageSetAll, 3, []int{0, 1, 2}),
			Entry("declaration order kept", []jobs.PageRange{{Start: 4, End: 4}, {Start: 0, End: 1}}, jobs.PageSetAll, 5, []int{4, 0, 1}),
		)

		DescribeTable("Sheets",
			func(pages []int, pps, copies int, collate, reverse bool, expected [][]int) {
				Expect(jobs.Sheets(pages, pps, copies, collate, reverse)).To(Equal(expected))
			},
			Entry("uncollated copies", []int{0, 1, 2}, 1, 2, false, false, [][]int{{0}, {0}, {1}, {1}, {2}, {2}}),
			Entry("collated copies", []int{0, 1, 2}, 1, 2, true, false, [][]int{{0}, {1}, {2}, {0}, {1}, {2}}),
			Entry("trailing partial sheet", []int{0, 1, 2, 3, 4}, 2, 1, true, false, [][]int{{0, 1}, {2, 3}, {4}}),
			Entry("reverse walks from the last page", []int{0, 1, 2}, 2, 1, true, true, [][]int{{2, 1}, {0}}),
			Entry("reverse with uncollated copies", []int{0, 1, 2, 3}, 2, 2, false, true, [][]int{{3, 2}, {3, 2}, {1, 0}, {1, 0}}),
		)

		It("should leave the page list untouched when reversing", func() {
			pages := []int{0, 1, 2}

			jobs.Sheets(pages, 2, 1, true, true)

			Expect(pages).To(Equal([]int{0, 1, 2}))
		})

		It("should emit the sheets through the exporter and transfer the output", func() {
			dest := filepath.Join(GinkgoT().TempDir(), "print.pdf")
			j := jobs.NewPrintJob(h, jobs.PrintParams{
				Ranges:        []jobs.PageRange{{Start: 0, End: 4}},
				Set:           jobs.PageSetOdd,
				PagesPerSheet: 2,
				Copies:        2,
				Collate:       false,
				OutputURI:     document.FileURI(dest),
			})

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(engine.Exported()).To(Equal([][]int{{0, 2}, {0, 2}, {4}, {4}}))
			Expect(j.Result().Pages).To(Equal([]int{0, 2, 4}))
			Expect(j.Result().Sheets).To(Equal(4))
			Expect(j.Result().Path).To(Equal(dest))
			Expect(dest).To(BeAnExistingFile())
			entries, err := os.ReadDir(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("should keep the temp output when no destination is given", func() {
			j := jobs.NewPrintJob(h, jobs.PrintParams{Ranges: []jobs.PageRange{{Start: 9, End: -1}}})

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(filepath.Dir(j.Result().Path)).To(Equal(tmpDir))
			Expect(j.Result().Path).To(BeAnExistingFile())
		})

		It("should remove the temp output when the export fails", func() {
			engine.ExportErr = srvErrors.NewIOError("export", "x", nil)
			j := jobs.NewPrintJob(h, jobs.PrintParams{})

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFailed))
			entries, err := os.ReadDir(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("should fail when no page matches", func() {
			j := jobs.NewPrintJob(h, jobs.PrintParams{Ranges: []jobs.PageRange{{Start: 20, End: 30}}})

			jobs.Execute(j, newRC())

			Expect(j.Err()).To(MatchError(jobs.ErrNothingToPrint))
		})
	})

	Describe("Find", func() {
		BeforeEach(func() {
			engine.Texts = map[int]string{1: "Foo", 4: "foo and foo", 8: "bar"}
		})

		// Given matches before and after the start page
		// When the search starts in the middle of the document
		// Then pages are scanned from the start page and wrap around
		It("should wrap around from the start page", func() {
			// Arrange
			j := jobs.NewFindJob(h, jobs.FindParams{Text: "foo", StartPage: 3})
			var scanned []int
			j.OnPageScanned(func(_ *jobs.FindJob, page int, _ []document.Rect) {
				scanned = append(scanned, page)
			})

			// Act
			jobs.Execute(j, newRC())
			loop.RunPending()

			// Assert
			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(scanned).To(Equal([]int{3, 4, 5, 6, 7, 8, 9, 0, 1, 2}))
			res := j.Result()
			Expect(res.TotalMatches()).To(Equal(3))
			Expect(res.FirstMatchPage()).To(Equal(4))
			Expect(res.Ordered()[0].Page).To(Equal(3))
			Expect(res.Matches[4]).To(HaveLen(2))
		})

		It("should honor case sensitivity", func() {
			j := jobs.NewFindJob(h, jobs.FindParams{Text: "Foo", CaseSensitive: true})

			jobs.Execute(j, newRC())

			Expect(j.Result().TotalMatches()).To(Equal(1))
			Expect(j.Result().FirstMatchPage()).To(Equal(1))
		})

		It("should report no match page when nothing is found", func() {
			j := jobs.NewFindJob(h, jobs.FindParams{Text: "zzz"})

			jobs.Execute(j, newRC())

			Expect(j.Result().FirstMatchPage()).To(Equal(-1))
		})
	})

	Describe("Fonts", func() {
		// Given a document whose fonts are spread over several batches
		// When the job is executed until it stops asking to continue
		// Then every unique font is collected and progress is reported per batch
		It("should scan in batches and requeue between them", func() {
			// Arrange
			a := document.FontInfo{Name: "A", Type: "Type1"}
			b := document.FontInfo{Name: "B", Type: "TrueType", Embedded: true}
			engine.Fonts = map[int][]document.FontInfo{0: {a}, 3: {a, b}, 9: {b}}
			j := jobs.NewFontsJob(h, 4)
			var progress []float64
			j.OnProgress(func(_ *jobs.FontsJob, f float64) { progress = append(progress, f) })

			// Act
			runs := 1
			for jobs.Execute(j, newRC()) {
				Expect(j.State()).To(Equal(jobs.StatePending))
				runs++
			}
			loop.RunPending()

			// Assert
			Expect(runs).To(Equal(3))
			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(j.Result().Completed).To(BeTrue())
			Expect(j.Result().Fonts).To(Equal([]document.FontInfo{a, b}))
			Expect(progress).To(Equal([]float64{0.4, 0.8, 1}))
		})
	})

	Describe("Links", func() {
		It("should return the outline tree", func() {
			engine.Outline = []document.OutlineItem{
				{Title: "Intro", Page: 0, Children: []document.OutlineItem{{Title: "Scope", Page: 1}}},
			}
			j := jobs.NewLinksJob(h)

			jobs.Execute(j, newRC())

			Expect(j.State()).To(Equal(jobs.StateFinished))
			Expect(j.Result().Outline).To(Equal(engine.Outline))
		})
	})
})

// cancelAfterOpen cancels the job right after the wrapped factory opens the
// document.
type cancelAfterOpen struct {
	document.Factory
	job jobs.Job
}

func (c *cancelAfterOpen) Open(ctx context.Context, uri, password string) (document.Backend, error) {
	b, err := c.Factory.Open(ctx, uri, password)
	c.job.Cancel()
	return b, err
}
