package jobs

import (
	"os"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

type SaveParams struct {
	DestURI string
	// OriginalURI is the file the document was loaded from. A gzip original
	// is saved gzip compressed.
	OriginalURI string
}

type SaveResult struct {
	Path       string
	Compressed bool
}

type SaveJob struct {
	*Base
	params SaveParams
	result SaveResult
}

func NewSaveJob(doc *document.Handle, params SaveParams) *SaveJob {
	j := &SaveJob{params: params}
	j.Base = NewBase(KindSave, doc, j)
	return j
}

func (j *SaveJob) Params() SaveParams { return j.params }

func (j *SaveJob) Result() *SaveResult { return &j.result }

func (j *SaveJob) Run(rc *RunContext) error {
	if err := j.Checkpoint(rc); err != nil {
		return err
	}
	doc := j.Document()
	if doc == nil {
		return errNoDocument
	}
	dest, err := document.LocalPath(j.params.DestURI)
	if err != nil {
		return srvErrors.NewIOError("save", j.params.DestURI, err)
	}

	tmp, err := createTemp(rc.tempDir(), "docjobs-save-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := doc.Backend().Save(tmp); err != nil {
		return srvErrors.NewIOError("save", tmp, err)
	}
	// the rest is plain file I/O
	rc.ReleaseDocument()

	if err := j.Checkpoint(rc); err != nil {
		return err
	}

	src := tmp
	if original, err := document.LocalPath(j.params.OriginalURI); err == nil && j.params.OriginalURI != "" && isGzip(original) {
		gz := tmp + ".gz"
		defer os.Remove(gz)
		if err := compress(tmp, gz); err != nil {
			return err
		}
		src = gz
		j.result.Compressed = true
	}

	if err := transfer(src, dest); err != nil {
		return err
	}
	j.result.Path = dest
	return nil
}
