package pdfdoc

import (
	"fmt"
	"image"
	"image/color"
)

type colorSpace struct {
	family     string // DeviceGray, DeviceRGB, DeviceCMYK or Indexed
	components int
	base       *colorSpace
	hival      int
	lookup     []byte
}

type imageParams struct {
	width, height int
	bpc           int
	space         colorSpace
	mask          bool
	decode        []float64
}

func (p imageParams) rowBytes() int64 {
	return (int64(p.width)*int64(p.space.components)*int64(p.bpc) + 7) / 8
}

// sampleBytes is the packed size of the whole image.
func (p imageParams) sampleBytes() int64 {
	return p.rowBytes() * int64(p.height)
}

// jpegLimit bounds the size of a JPEG stream for the image. Baseline JPEG
// rarely exceeds the raw samples; twice that plus room for headers is a
// generous ceiling.
func (p imageParams) jpegLimit() int64 {
	return 2*int64(p.width)*int64(p.height)*4 + 64<<10
}

// invertsDecode reports a /Decode array of the form [1 0 1 0 ...].
func (p imageParams) invertsDecode() bool {
	if len(p.decode) < 2 {
		return false
	}
	for i := 0; i+1 < len(p.decode); i += 2 {
		if p.decode[i] != 1 || p.decode[i+1] != 0 {
			return false
		}
	}
	return true
}

// samples unpacks packed rows into one value per component, scaled to 0-255.
// Indexed images keep their raw palette indices.
func (p imageParams) samples(data []byte) ([]uint8, error) {
	if p.width <= 0 || p.height <= 0 || p.space.components <= 0 {
		return nil, fmt.Errorf("invalid image geometry %dx%d", p.width, p.height)
	}
	need := p.sampleBytes()
	if need <= 0 || need/int64(p.height) != p.rowBytes() {
		return nil, fmt.Errorf("%w: %dx%d samples overflow", ErrTooLarge, p.width, p.height)
	}
	if int64(len(data)) < need {
		return nil, fmt.Errorf("short sample data: have %d bytes, need %d", len(data), need)
	}
	stride := int(p.rowBytes())

	perRow := p.width * p.space.components
	out := make([]uint8, 0, perRow*p.height)
	maxVal := (1 << p.bpc) - 1
	scale := p.space.family != "Indexed"

	for y := 0; y < p.height; y++ {
		row := data[y*stride : (y+1)*stride]
		for i := 0; i < perRow; i++ {
			var v int
			switch p.bpc {
			case 8:
				v = int(row[i])
			case 16:
				v = int(row[2*i])<<8 | int(row[2*i+1])
			default:
				bit := i * p.bpc
				shift := 8 - p.bpc - bit%8
				v = int(row[bit/8]>>shift) & maxVal
			}
			if scale {
				v = v * 255 / maxVal
			}
			out = append(out, uint8(v))
		}
	}
	return out, nil
}

// applyDecode maps samples through the /Decode array when one is present.
func (p imageParams) applyDecode(s []uint8) {
	n := p.space.components
	if len(p.decode) < 2*n || p.space.family == "Indexed" {
		return
	}
	for i := range s {
		c := i % n
		lo, hi := p.decode[2*c], p.decode[2*c+1]
		if lo == 0 && hi == 1 {
			continue
		}
		v := (lo + float64(s[i])/255*(hi-lo)) * 255
		s[i] = clamp(v)
	}
}

// alpha returns the mask samples as one 0-255 value per pixel.
func (p imageParams) alpha(data []byte) ([]uint8, error) {
	s, err := p.samples(data)
	if err != nil {
		return nil, err
	}
	p.applyDecode(s)
	return s, nil
}

func (p imageParams) toImage(data []byte, alpha []uint8) (image.Image, error) {
	s, err := p.samples(data)
	if err != nil {
		return nil, err
	}
	if p.mask {
		// stencil masks paint where the sample is 0 unless /Decode is [1 0]
		painted := uint8(0)
		if len(p.decode) >= 2 && p.decode[0] == 1 {
			painted = 255
		}
		img := image.NewGray(image.Rect(0, 0, p.width, p.height))
		for i, v := range s {
			if v == painted {
				img.Pix[i] = 0
			} else {
				img.Pix[i] = 255
			}
		}
		return img, nil
	}
	p.applyDecode(s)

	rect := image.Rect(0, 0, p.width, p.height)
	if alpha == nil {
		switch p.space.family {
		case "DeviceGray":
			img := image.NewGray(rect)
			copy(img.Pix, s)
			return img, nil
		case "DeviceCMYK":
			img := image.NewCMYK(rect)
			copy(img.Pix, s)
			return img, nil
		}
	}

	img := image.NewNRGBA(rect)
	for i := 0; i < p.width*p.height; i++ {
		r, g, b, err := p.space.rgb(s, i)
		if err != nil {
			return nil, err
		}
		a := uint8(255)
		if alpha != nil {
			a = alpha[i]
		}
		img.Pix[4*i], img.Pix[4*i+1], img.Pix[4*i+2], img.Pix[4*i+3] = r, g, b, a
	}
	return img, nil
}

// rgb converts pixel i of s to RGB.
func (cs colorSpace) rgb(s []uint8, i int) (uint8, uint8, uint8, error) {
	n := cs.components
	px := s[i*n : (i+1)*n]
	switch cs.family {
	case "DeviceGray":
		return px[0], px[0], px[0], nil
	case "DeviceRGB":
		return px[0], px[1], px[2], nil
	case "DeviceCMYK":
		r, g, b := color.CMYKToRGB(px[0], px[1], px[2], px[3])
		return r, g, b, nil
	case "Indexed":
		idx := int(px[0])
		if idx > cs.hival {
			idx = cs.hival
		}
		bn := cs.base.components
		if (idx+1)*bn > len(cs.lookup) {
			return 0, 0, 0, fmt.Errorf("palette index %d outside lookup table", idx)
		}
		return cs.base.rgb(cs.lookup[idx*bn:(idx+1)*bn], 0)
	}
	return 0, 0, 0, fmt.Errorf("%w: color space %s", ErrUnsupported, cs.family)
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v + 0.5)
}
