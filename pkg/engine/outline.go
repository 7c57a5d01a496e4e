package engine

import (
	"github.com/gen2brain/go-fitz"

	"github.com/tupyy/docjobs/pkg/document"
)

// Outline returns the document's table of contents as a tree.
func (d *Document) Outline() ([]document.OutlineItem, error) {
	if d.raster == nil {
		return nil, errNotLoaded
	}
	toc, err := d.raster.ToC()
	if err != nil {
		return nil, err
	}
	return buildOutline(toc), nil
}

// buildOutline nests the flat, level-annotated entries MuPDF returns.
func buildOutline(toc []fitz.Outline) []document.OutlineItem {
	type frame struct {
		level int
		items *[]document.OutlineItem
	}
	var root []document.OutlineItem
	stack := []frame{{level: 0, items: &root}}

	for _, o := range toc {
		for len(stack) > 1 && stack[len(stack)-1].level >= o.Level {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].items
		page := o.Page
		if page < 0 {
			page = -1
		}
		*parent = append(*parent, document.OutlineItem{Title: o.Title, URI: o.URI, Page: page})
		last := &(*parent)[len(*parent)-1]
		stack = append(stack, frame{level: o.Level, items: &last.Children})
	}
	return root
}
