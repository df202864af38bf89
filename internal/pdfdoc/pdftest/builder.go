// Package pdftest builds small PDF documents with embedded images for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/zlib"
)

// Image is an image XObject. Data holds the stream bytes as stored in the
// file, already filtered when Filter is set.
type Image struct {
	Width, Height int
	ColorSpace    string // defaults to DeviceRGB
	BPC           int    // defaults to 8
	Filter        string // a name, or a "[...]" array written as is
	Extra         string // raw dictionary entries appended as is
	Data          []byte
	SMask         *Image
}

// Page maps resource names to images.
type Page struct {
	Images map[string]Image
}

// Solid returns a width x height DeviceRGB image filled with c, Flate encoded.
func Solid(width, height int, c color.RGBA) Image {
	raw := make([]byte, 0, width*height*3)
	for i := 0; i < width*height; i++ {
		raw = append(raw, c.R, c.G, c.B)
	}
	return Image{Width: width, Height: height, ColorSpace: "DeviceRGB", BPC: 8, Filter: "FlateDecode", Data: Deflate(raw)}
}

// Gray returns an unfiltered 8-bit DeviceGray image filled with v.
func Gray(width, height int, v uint8) Image {
	return Image{Width: width, Height: height, ColorSpace: "DeviceGray", BPC: 8, Data: bytes.Repeat([]byte{v}, width*height)}
}

// JPEG returns img as a DCTDecode image in the given color space.
func JPEG(img image.Image, colorSpace string) Image {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(100)); err != nil {
		panic(err)
	}
	b := img.Bounds()
	return Image{Width: b.Dx(), Height: b.Dy(), ColorSpace: colorSpace, BPC: 8, Filter: "DCTDecode", Data: buf.Bytes()}
}

// Deflate zlib-compresses data the way FlateDecode expects.
func Deflate(data []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	return buf.Bytes()
}

type object struct {
	body   string
	stream []byte
}

type builder struct {
	objects []object
}

// reserve allocates an object number to be filled later.
func (b *builder) reserve() int {
	b.objects = append(b.objects, object{})
	return len(b.objects)
}

func (b *builder) set(id int, body string, stream []byte) {
	b.objects[id-1] = object{body: body, stream: stream}
}

func (b *builder) image(img Image) int {
	id := b.reserve()
	cs := img.ColorSpace
	if cs == "" {
		cs = "DeviceRGB"
	}
	if !strings.HasPrefix(cs, "[") {
		cs = "/" + cs
	}
	bpc := img.BPC
	if bpc == 0 {
		bpc = 8
	}

	var dict strings.Builder
	fmt.Fprintf(&dict, "<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace %s /BitsPerComponent %d /Length %d",
		img.Width, img.Height, cs, bpc, len(img.Data))
	switch {
	case strings.HasPrefix(img.Filter, "["):
		fmt.Fprintf(&dict, " /Filter %s", img.Filter)
	case img.Filter != "":
		fmt.Fprintf(&dict, " /Filter /%s", img.Filter)
	}
	if img.SMask != nil {
		fmt.Fprintf(&dict, " /SMask %d 0 R", b.image(*img.SMask))
	}
	if img.Extra != "" {
		dict.WriteString(" " + img.Extra)
	}
	dict.WriteString(" >>")
	data := img.Data
	if data == nil {
		data = []byte{}
	}
	b.set(id, dict.String(), data)
	return id
}

// Build serializes pages into a complete PDF with a valid xref table.
func Build(pages ...Page) []byte {
	b := &builder{}
	catalog := b.reserve()
	tree := b.reserve()

	kids := make([]string, 0, len(pages))
	for _, p := range pages {
		pageID := b.reserve()
		kids = append(kids, fmt.Sprintf("%d 0 R", pageID))

		names := make([]string, 0, len(p.Images))
		for name := range p.Images {
			names = append(names, name)
		}
		sort.Strings(names)
		var xobj strings.Builder
		for _, name := range names {
			fmt.Fprintf(&xobj, " /%s %d 0 R", name, b.image(p.Images[name]))
		}
		b.set(pageID, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /XObject <<%s >> >> >>",
			tree, xobj.String()), nil)
	}
	b.set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", tree), nil)
	b.set(tree, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)), nil)

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(b.objects))
	for i, obj := range b.objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\n", i+1, obj.body)
		if obj.stream != nil {
			out.WriteString("stream\n")
			out.Write(obj.stream)
			out.WriteString("\nendstream\n")
		}
		out.WriteString("endobj\n")
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(b.objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(b.objects)+1, catalog, xref)
	return out.Bytes()
}
