// Package engine is the PDF document engine behind the job system.
//
// Engine implements document.Factory. The documents it opens implement
// document.Backend and the optional capabilities: link and form-field
// mapping, glyph layout, text search, outline, font listing and file export.
//
// Several libraries cooperate on one document:
//
//   - pdfcpu parses and validates the file, handles passwords, decrypts and saves
//   - MuPDF (go-fitz) rasterizes pages and reads the outline
//   - ledongthuc/pdf reads glyph positions, fonts, and link and widget annotations
//
// Gzip-compressed PDFs are uncompressed to a temporary file on load. Export
// composes N-up sheets with golang.org/x/image and writes them as a PDF
// (pdfcpu image import) or a zip of PNG files.
package engine
