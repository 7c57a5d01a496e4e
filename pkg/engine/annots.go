package engine

import (
	"fmt"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/tupyy/docjobs/pkg/document"
)

// PageLinks maps the link annotations of a page. Areas are in page space
// with the origin at the top left.
func (d *Document) PageLinks(page int) (links []document.Mapping[document.Link], err error) {
	p, err := d.textPage(page)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			links, err = nil, fmt.Errorf("malformed annotations on page %d: %v", page, r)
		}
	}()
	return pageLinks(d.text, p, d.pages[page].Height), nil
}

func pageLinks(r *pdf.Reader, p pdf.Page, height float64) []document.Mapping[document.Link] {
	annots := p.V.Key("Annots")
	var links []document.Mapping[document.Link]
	for i := 0; i < annots.Len(); i++ {
		a := annots.Index(i)
		if a.Key("Subtype").Name() != "Link" {
			continue
		}
		area, ok := annotRect(a.Key("Rect"), height)
		if !ok {
			continue
		}

		link := document.Link{Page: -1}
		if action := a.Key("A"); !action.IsNull() {
			switch action.Key("S").Name() {
			case "URI":
				link.URI = action.Key("URI").RawString()
			case "GoTo":
				link.Dest, link.Page = destination(r, action.Key("D"))
			}
		} else {
			link.Dest, link.Page = destination(r, a.Key("Dest"))
		}
		if link.URI == "" && link.Dest == "" && link.Page < 0 {
			continue
		}
		links = append(links, document.Mapping[document.Link]{Area: area, Data: link})
	}
	return links
}

// destination resolves an explicit or named destination to its name, if
// any, and its zero-based page, or -1.
func destination(r *pdf.Reader, v pdf.Value) (string, int) {
	var name string
	switch v.Kind() {
	case pdf.Name:
		name = v.Name()
		v = namedDestination(r, name)
	case pdf.String:
		name = v.RawString()
		v = namedDestination(r, name)
	}
	if v.Kind() == pdf.Dict {
		v = v.Key("D")
	}
	if v.Kind() != pdf.Array || v.Len() == 0 {
		return name, -1
	}

	target := v.Index(0)
	if target.Kind() == pdf.Integer {
		return name, int(target.Int64())
	}
	if target.Kind() != pdf.Dict {
		return name, -1
	}
	// the page dictionary has no exported identity; its formatted content
	// identifies it among the document's pages
	key := target.String()
	for i := 1; i <= r.NumPage(); i++ {
		if r.Page(i).V.String() == key {
			return name, i - 1
		}
	}
	return name, -1
}

func namedDestination(r *pdf.Reader, name string) pdf.Value {
	root := r.Trailer().Key("Root")
	if d := root.Key("Dests").Key(name); !d.IsNull() {
		return d
	}
	return nameTreeLookup(root.Key("Names").Key("Dests"), name, 0)
}

func nameTreeLookup(node pdf.Value, name string, depth int) pdf.Value {
	if node.IsNull() || depth > 32 {
		return pdf.Value{}
	}
	names := node.Key("Names")
	for i := 0; i+1 < names.Len(); i += 2 {
		if names.Index(i).RawString() == name {
			return names.Index(i + 1)
		}
	}
	kids := node.Key("Kids")
	for i := 0; i < kids.Len(); i++ {
		if v := nameTreeLookup(kids.Index(i), name, depth+1); !v.IsNull() {
			return v
		}
	}
	return pdf.Value{}
}

const fieldReadOnly = 1

// PageFormFields maps the widget annotations of a page.
func (d *Document) PageFormFields(page int) ([]document.Mapping[document.FormField], error) {
	p, err := d.textPage(page)
	if err != nil {
		return nil, err
	}
	height := d.pages[page].Height

	annots := p.V.Key("Annots")
	var fields []document.Mapping[document.FormField]
	for i := 0; i < annots.Len(); i++ {
		a := annots.Index(i)
		if a.Key("Subtype").Name() != "Widget" {
			continue
		}
		r, ok := annotRect(a.Key("Rect"), height)
		if !ok {
			continue
		}
		fields = append(fields, document.Mapping[document.FormField]{
			Area: r,
			Data: document.FormField{
				Name:     inherited(a, "T").Text(),
				Type:     inherited(a, "FT").Name(),
				Value:    fieldValue(inherited(a, "V")),
				ReadOnly: inherited(a, "Ff").Int64()&fieldReadOnly != 0,
			},
		})
	}
	return fields, nil
}

// inherited looks key up on a field and then on its parents.
func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		if val := v.Key(key); !val.IsNull() {
			return val
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

func fieldValue(v pdf.Value) string {
	switch v.Kind() {
	case pdf.Name:
		return v.Name()
	case pdf.String:
		return v.Text()
	case pdf.Integer:
		return strconv.FormatInt(v.Int64(), 10)
	case pdf.Real:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	default:
		return ""
	}
}

func annotRect(v pdf.Value, height float64) (document.Rect, bool) {
	if v.Len() != 4 {
		return document.Rect{}, false
	}
	return flipY(v.Index(0).Float64(), v.Index(1).Float64(), v.Index(2).Float64(), v.Index(3).Float64(), height), true
}
