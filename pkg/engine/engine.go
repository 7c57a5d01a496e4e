package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"github.com/klauspost/pgzip"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

const (
	mimePDF  = "application/pdf"
	mimeGzip = "application/gzip"

	DefaultExportDPI = 150.0
)

func init() {
	// pdfcpu would otherwise create a config dir under the user's home
	api.DisableConfigDir()
}

// Engine opens PDF documents. It implements document.Factory.
type Engine struct {
	log       *zap.SugaredLogger
	tempDir   string
	exportDPI float64
}

type Option func(*Engine)

func WithTempDir(dir string) Option {
	return func(e *Engine) {
		e.tempDir = dir
	}
}

// WithExportDPI sets the resolution of printed sheets.
func WithExportDPI(dpi float64) Option {
	return func(e *Engine) {
		if dpi > 0 {
			e.exportDPI = dpi
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		log:       zap.S().Named("engine"),
		tempDir:   os.TempDir(),
		exportDPI: DefaultExportDPI,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open sniffs the content at uri and loads it. Gzip-compressed PDFs are
// accepted. Anything else is an InvalidDocumentError.
func (e *Engine) Open(ctx context.Context, uri, password string) (document.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, srvErrors.NewCancelledError()
	}
	d := &Document{engine: e}
	if err := d.Load(uri, password); err != nil {
		return nil, err
	}
	return d, nil
}

// source is the on-disk state of a loaded document: the file the engines
// read and the temporary files created to get there.
type source struct {
	path  string
	temps []string
}

func (s *source) cleanup() {
	for _, t := range s.temps {
		_ = os.Remove(t)
	}
	s.temps = nil
}

func (e *Engine) createTemp(pattern string) (string, error) {
	f, err := os.CreateTemp(e.tempDir, pattern)
	if err != nil {
		return "", srvErrors.NewIOError("create temp", e.tempDir, err)
	}
	name := f.Name()
	_ = f.Close()
	return name, nil
}

// prepare resolves uri to a readable PDF file, uncompressing it first when
// needed.
func (e *Engine) prepare(uri string) (*source, error) {
	path, err := document.LocalPath(uri)
	if err != nil {
		return nil, srvErrors.NewInvalidDocumentError(uri, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, srvErrors.NewIOError("open", path, err)
	}

	src := &source{path: path}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, srvErrors.NewIOError("read", path, err)
	}
	if mt.Is(mimeGzip) {
		tmp, err := e.gunzip(path)
		if err != nil {
			return nil, err
		}
		src.path = tmp
		src.temps = append(src.temps, tmp)
		if mt, err = mimetype.DetectFile(tmp); err != nil {
			src.cleanup()
			return nil, srvErrors.NewIOError("read", tmp, err)
		}
	}
	if !mt.Is(mimePDF) {
		src.cleanup()
		return nil, srvErrors.NewInvalidDocumentError(uri, errors.New("unsupported content type "+mt.String()))
	}
	return src, nil
}

func (e *Engine) gunzip(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", srvErrors.NewIOError("open", path, err)
	}
	defer in.Close()

	zr, err := pgzip.NewReader(in)
	if err != nil {
		return "", srvErrors.NewIOError("decompress", path, err)
	}
	defer zr.Close()

	tmp, err := e.createTemp("docjobs-load-*.pdf")
	if err != nil {
		return "", err
	}
	out, err := os.Create(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return "", srvErrors.NewIOError("create", tmp, err)
	}
	_, err = io.Copy(out, zr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", srvErrors.NewIOError("decompress", path, err)
	}
	return tmp, nil
}

// readContext parses and validates path with pdfcpu.
func readContext(uri, path, password string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, srvErrors.NewIOError("open", path, err)
	}
	defer f.Close()

	conf := newConfiguration(password)
	ctx, err := api.ReadContext(f, conf)
	if err != nil {
		return nil, classify(uri, password, err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, srvErrors.NewInvalidDocumentError(uri, err)
	}
	return ctx, nil
}

func newConfiguration(password string) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password
	return conf
}

// classify turns a pdfcpu read error into the error taxonomy.
func classify(uri, password string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "password") {
		if password == "" {
			return srvErrors.NewEncryptedDocumentError(uri)
		}
		return srvErrors.NewWrongPasswordError(uri)
	}
	return srvErrors.NewInvalidDocumentError(uri, err)
}

// openRaster opens path with MuPDF. Encrypted files are decrypted to a
// temporary copy first.
func (e *Engine) openRaster(uri, password string, src *source) (*fitz.Document, error) {
	fz, err := fitz.New(src.path)
	if err == nil {
		return fz, nil
	}
	if !errors.Is(err, fitz.ErrNeedsPassword) {
		return nil, srvErrors.NewInvalidDocumentError(uri, err)
	}

	tmp, err := e.createTemp("docjobs-decrypt-*.pdf")
	if err != nil {
		return nil, err
	}
	if err := api.DecryptFile(src.path, tmp, newConfiguration(password)); err != nil {
		_ = os.Remove(tmp)
		return nil, classify(uri, password, err)
	}
	src.path = tmp
	src.temps = append(src.temps, tmp)

	fz, err = fitz.New(tmp)
	if err != nil {
		return nil, srvErrors.NewInvalidDocumentError(uri, err)
	}
	return fz, nil
}
