package jobs

import "github.com/tupyy/docjobs/pkg/document"

type LinksResult struct {
	Outline []document.OutlineItem
}

// LinksJob extracts the document outline. A backend without an outline
// gives an empty tree.
type LinksJob struct {
	*Base
	result LinksResult
}

func NewLinksJob(doc *document.Handle) *LinksJob {
	j := &LinksJob{}
	j.Base = NewBase(KindLinks, doc, j)
	return j
}

func (j *LinksJob) Result() *LinksResult { return &j.result }

func (j *LinksJob) Run(rc *RunContext) error {
	if err := j.Checkpoint(rc); err != nil {
		return err
	}
	doc := j.Document()
	if doc == nil {
		return errNoDocument
	}
	provider, ok := doc.Backend().(document.OutlineProvider)
	if !ok {
		return nil
	}
	items, err := provider.Outline()
	if err != nil {
		return err
	}
	j.result.Outline = items
	return nil
}
