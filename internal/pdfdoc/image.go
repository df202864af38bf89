package pdfdoc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/zlib"
	"github.com/ledongthuc/pdf"
)

// Filters the underlying reader can undo. Anything else is ErrUnsupported,
// except a trailing DCTDecode which Decode reads itself.
var decodableFilters = map[string]bool{
	"FlateDecode": true,
	"Fl":          true,
}

var dctFilters = map[string]bool{
	"DCTDecode": true,
	"DCT":       true,
}

// maxPredictorColumns bounds the row buffer the reader allocates for PNG
// predictors.
const maxPredictorColumns = 1 << 24

// filterChain describes how a stream's bytes turn into something decodable.
type filterChain struct {
	dct     bool // stream ends in a JPEG
	inflate int  // Flate layers wrapped around the JPEG
}

// Image is one image XObject of a page.
type Image struct {
	doc   *Document
	name  string
	value pdf.Value
}

// Name is the resource name, such as "Im1".
func (img *Image) Name() string {
	return img.name
}

// Decode reads the image samples and converts them to pixels. A decodable
// soft mask becomes the alpha channel. Images over the document's pixel
// ceiling, and streams inflating past what their dimensions need, fail with
// ErrTooLarge before the excess is buffered.
func (img *Image) Decode() (image.Image, error) {
	var (
		params      imageParams
		chain       filterChain
		data        []byte
		mask        *imageParams
		maskSamples []byte
	)
	err := img.doc.locked(func() error {
		var err error
		params, chain, err = img.doc.parseParams(img.value)
		if err != nil {
			return err
		}
		if chain.dct {
			data, err = img.doc.readRaw(img.value, chain.inflate, params.jpegLimit())
		} else {
			data, err = readStream(img.value, streamLimit(params.sampleBytes()))
		}
		if err != nil {
			return err
		}
		mask, maskSamples = readSoftMask(img.value, params)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", img.name, err)
	}

	var alpha []byte
	if mask != nil {
		alpha, _ = mask.alpha(maskSamples)
	}
	var out image.Image
	if chain.dct {
		out, err = params.decodeJPEG(data, alpha, img.doc.maxPixels)
	} else {
		out, err = params.toImage(data, alpha)
	}
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", img.name, err)
	}
	return out, nil
}

func (d *Document) parseParams(v pdf.Value) (imageParams, filterChain, error) {
	var p imageParams
	w, h := v.Key("Width").Int64(), v.Key("Height").Int64()
	if w <= 0 || h <= 0 {
		return p, filterChain{}, fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	if err := checkPixels(w, h, d.maxPixels); err != nil {
		return p, filterChain{}, err
	}
	p.width, p.height = int(w), int(h)
	p.bpc = int(v.Key("BitsPerComponent").Int64())

	chain, err := checkFilters(v)
	if err != nil {
		return p, chain, err
	}

	if m := v.Key("ImageMask"); m.Kind() == pdf.Bool && m.Bool() {
		if chain.dct {
			return p, chain, fmt.Errorf("%w: DCT encoded stencil mask", ErrUnsupported)
		}
		p.mask = true
		p.bpc = 1
		p.space = colorSpace{family: "DeviceGray", components: 1}
	} else {
		cs, err := parseColorSpace(v.Key("ColorSpace"))
		switch {
		case err == nil:
			p.space = cs
		case chain.dct:
			// a JPEG carries its own color model; the declared space only
			// matters for /Decode
		default:
			return p, chain, err
		}
	}
	if chain.dct && p.bpc == 0 {
		p.bpc = 8
	}
	switch p.bpc {
	case 1, 2, 4, 8, 16:
	default:
		return p, chain, fmt.Errorf("%w: %d bits per component", ErrUnsupported, p.bpc)
	}

	if dec := v.Key("Decode"); dec.Kind() == pdf.Array {
		for i := 0; i < dec.Len(); i++ {
			p.decode = append(p.decode, dec.Index(i).Float64())
		}
	}
	return p, chain, nil
}

func checkPixels(w, h, limit int64) error {
	if w > limit || h > limit || w*h > limit {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, w, h, limit)
	}
	return nil
}

// checkFilters rejects filters, and predictor settings, that neither the
// reader nor the JPEG path can undo.
func checkFilters(v pdf.Value) (filterChain, error) {
	filter := v.Key("Filter")
	params := v.Key("DecodeParms")
	var names []string
	var parms []pdf.Value
	switch filter.Kind() {
	case pdf.Null:
		return filterChain{}, nil
	case pdf.Name:
		names, parms = []string{filter.Name()}, []pdf.Value{params}
	case pdf.Array:
		for i := 0; i < filter.Len(); i++ {
			names = append(names, filter.Index(i).Name())
			parms = append(parms, params.Index(i))
		}
	default:
		return filterChain{}, fmt.Errorf("invalid filter entry")
	}

	var chain filterChain
	if last := len(names) - 1; last >= 0 && dctFilters[names[last]] {
		chain = filterChain{dct: true, inflate: last}
		names, parms = names[:last], parms[:last]
	}
	for i, name := range names {
		if !decodableFilters[name] {
			return chain, fmt.Errorf("%w: filter %s", ErrUnsupported, name)
		}
		if parms[i].Kind() != pdf.Dict {
			continue
		}
		pred := parms[i].Key("Predictor")
		if pred.Kind() == pdf.Null || pred.Int64() == 1 {
			continue
		}
		if chain.dct {
			return chain, fmt.Errorf("%w: predictor %d before DCTDecode", ErrUnsupported, pred.Int64())
		}
		// the reader only implements the PNG Up predictor on single byte samples
		colors := parms[i].Key("Colors")
		bpc := parms[i].Key("BitsPerComponent")
		columns := parms[i].Key("Columns").Int64()
		if pred.Int64() != 12 ||
			(colors.Kind() != pdf.Null && colors.Int64() != 1) ||
			(bpc.Kind() != pdf.Null && bpc.Int64() != 8) {
			return chain, fmt.Errorf("%w: predictor %d", ErrUnsupported, pred.Int64())
		}
		if columns < 0 || columns > maxPredictorColumns {
			return chain, fmt.Errorf("%w: predictor with %d columns", ErrTooLarge, columns)
		}
	}
	return chain, nil
}

func parseColorSpace(v pdf.Value) (colorSpace, error) {
	switch v.Kind() {
	case pdf.Name:
		return deviceSpace(v.Name())
	case pdf.Array:
		if v.Len() == 0 {
			return colorSpace{}, fmt.Errorf("empty color space array")
		}
	case pdf.Null:
		return colorSpace{}, fmt.Errorf("missing color space")
	default:
		return colorSpace{}, fmt.Errorf("invalid color space")
	}

	family := v.Index(0).Name()
	switch family {
	case "CalGray", "CalRGB":
		return deviceSpace(family)
	case "ICCBased":
		n := int(v.Index(1).Key("N").Int64())
		switch n {
		case 1:
			return deviceSpace("DeviceGray")
		case 3:
			return deviceSpace("DeviceRGB")
		case 4:
			return deviceSpace("DeviceCMYK")
		}
		return colorSpace{}, fmt.Errorf("%w: ICC profile with %d components", ErrUnsupported, n)
	case "Indexed", "I":
		base, err := parseColorSpace(v.Index(1))
		if err != nil {
			return colorSpace{}, err
		}
		if base.family == "Indexed" {
			return colorSpace{}, fmt.Errorf("nested indexed color space")
		}
		lookup, err := readLookup(v.Index(3))
		if err != nil {
			return colorSpace{}, err
		}
		return colorSpace{
			family:     "Indexed",
			components: 1,
			base:       &base,
			hival:      int(v.Index(2).Int64()),
			lookup:     lookup,
		}, nil
	}
	return colorSpace{}, fmt.Errorf("%w: color space %s", ErrUnsupported, family)
}

func deviceSpace(name string) (colorSpace, error) {
	switch name {
	case "DeviceGray", "G", "CalGray":
		return colorSpace{family: "DeviceGray", components: 1}, nil
	case "DeviceRGB", "RGB", "CalRGB":
		return colorSpace{family: "DeviceRGB", components: 3}, nil
	case "DeviceCMYK", "CMYK":
		return colorSpace{family: "DeviceCMYK", components: 4}, nil
	}
	return colorSpace{}, fmt.Errorf("%w: color space %s", ErrUnsupported, name)
}

// maxLookupBytes covers 256 CMYK palette entries.
const maxLookupBytes = 256 * 4

func readLookup(v pdf.Value) ([]byte, error) {
	switch v.Kind() {
	case pdf.String:
		return []byte(v.RawString()), nil
	case pdf.Stream:
		chain, err := checkFilters(v)
		if err != nil {
			return nil, err
		}
		if chain.dct {
			return nil, fmt.Errorf("%w: DCT encoded lookup table", ErrUnsupported)
		}
		return readStream(v, streamLimit(maxLookupBytes))
	}
	return nil, fmt.Errorf("invalid indexed lookup table")
}

// streamLimit is how far a stream needing need bytes may inflate. Producers
// pad rows now and then, so a little slack is tolerated.
func streamLimit(need int64) int64 {
	return need + need/4 + 1024
}

func readStream(v pdf.Value, limit int64) ([]byte, error) {
	rc := v.Reader()
	defer rc.Close()
	return readLimited(rc, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: stream exceeds %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}

// readRaw returns the stored bytes of v with only its Flate layers undone.
// The reader reports where a stream's data starts as the suffix of its
// string form, "<<dict>>@offset".
func (d *Document) readRaw(v pdf.Value, inflate int, limit int64) ([]byte, error) {
	if d.encrypted {
		return nil, fmt.Errorf("%w: DCT stream in encrypted document", ErrUnsupported)
	}
	s := v.String()
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return nil, fmt.Errorf("cannot locate stream data")
	}
	off, err := strconv.ParseInt(s[at+1:], 10, 64)
	length := v.Key("Length").Int64()
	if err != nil || off < 0 || off >= d.size || length <= 0 {
		return nil, fmt.Errorf("cannot locate stream data")
	}

	var r io.Reader = io.NewSectionReader(d.src, off, length)
	for range inflate {
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to inflate stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return readLimited(r, limit)
}

// decodeJPEG decodes a DCT stream. Dimensions are checked against the
// ceiling from the JPEG header, which is what the decoder allocates for.
func (p imageParams) decodeJPEG(data []byte, alpha []uint8, maxPixels int64) (image.Image, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid jpeg stream: %w", err)
	}
	if err := checkPixels(int64(cfg.Width), int64(cfg.Height), maxPixels); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid jpeg stream: %w", err)
	}

	// Adobe CMYK JPEGs come with an inverting /Decode that the decoder
	// already accounts for
	if p.invertsDecode() && p.space.components != 4 {
		img = imaging.Invert(img)
	}
	b := img.Bounds()
	if alpha == nil || len(alpha) != b.Dx()*b.Dy() {
		return img, nil
	}
	out := imaging.Clone(img)
	for i, a := range alpha {
		out.Pix[4*i+3] = a
	}
	return out, nil
}

// readSoftMask returns the parameters and samples of a usable /SMask. Masks
// that do not match the image or cannot be decoded are ignored.
func readSoftMask(v pdf.Value, img imageParams) (mask *imageParams, samples []byte) {
	defer func() {
		if recover() != nil {
			mask, samples = nil, nil
		}
	}()
	sm := v.Key("SMask")
	if sm.Kind() != pdf.Stream {
		return nil, nil
	}
	p := imageParams{
		width:  int(sm.Key("Width").Int64()),
		height: int(sm.Key("Height").Int64()),
		bpc:    int(sm.Key("BitsPerComponent").Int64()),
		space:  colorSpace{family: "DeviceGray", components: 1},
	}
	if p.width != img.width || p.height != img.height {
		return nil, nil
	}
	switch p.bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, nil
	}
	if chain, err := checkFilters(sm); err != nil || chain.dct {
		return nil, nil
	}
	data, err := readStream(sm, streamLimit(p.sampleBytes()))
	if err != nil {
		return nil, nil
	}
	return &p, data
}
