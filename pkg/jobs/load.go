package jobs

import (
	"go.uber.org/zap"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

type LoadParams struct {
	URI      string
	Password string
	// Dest and Search are carried for the caller: the page or named
	// destination to show and the search to start once loaded.
	Dest   string
	Search string
}

// LoadJob opens a document, or reloads the one it already points at. After
// an EncryptedDocumentError the caller sets a password and submits the same
// job again.
type LoadJob struct {
	*Base
	params LoadParams
	opened bool
}

func NewLoadJob(params LoadParams) *LoadJob {
	j := &LoadJob{params: params}
	j.Base = NewBase(KindLoad, nil, j)
	return j
}

// NewReloadJob reloads an already open handle in place.
func NewReloadJob(doc *document.Handle, params LoadParams) *LoadJob {
	j := &LoadJob{params: params}
	j.Base = NewBase(KindLoad, doc, j)
	return j
}

func (j *LoadJob) Params() LoadParams {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.params
}

// SetURI points the job at another URI. A terminal job is put back to
// Pending. It reports false while the job is running.
func (j *LoadJob) SetURI(uri string) bool {
	if !j.rearm() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.params.URI = uri
	return true
}

// SetPassword sets the password for the next run. A terminal job is put
// back to Pending. It reports false while the job is running.
func (j *LoadJob) SetPassword(password string) bool {
	if !j.rearm() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.params.Password = password
	return true
}

// Handle returns the loaded document. The caller owns its first reference.
func (j *LoadJob) Handle() *document.Handle { return j.Document() }

func (j *LoadJob) Run(rc *RunContext) error {
	if err := j.Checkpoint(rc); err != nil {
		return err
	}
	p := j.Params()

	if doc := j.Document(); doc != nil {
		if err := doc.Backend().Load(p.URI, p.Password); err != nil {
			return err
		}
		doc.SetURI(p.URI)
		return nil
	}

	if rc == nil || rc.Factory == nil {
		return srvErrors.NewUnsupportedOperationError("load")
	}
	backend, err := rc.Factory.Open(rc.ctx(), p.URI, p.Password)
	if err != nil {
		return err
	}

	j.mu.Lock()
	j.opened = true
	j.mu.Unlock()
	j.setDocument(document.NewHandle(p.URI, backend))

	zap.S().Named("jobs").Debugw("document loaded", "job", j.ID(), "uri", p.URI, "pages", backend.PageCount())
	return nil
}

// terminated drops a handle this job opened when the run did not finish,
// so a cancelled load does not leak the backend.
func (j *LoadJob) terminated(state State) {
	j.mu.Lock()
	opened := j.opened
	j.opened = false
	j.mu.Unlock()
	if !opened || state == StateFinished {
		return
	}
	if doc := j.Document(); doc != nil {
		_ = doc.Unref()
	}
	j.setDocument(nil)
}
