package compositor

import (
	"image"
	"math"
)

// CoverCrop returns the region of a srcW×srcH source that, scaled by
// max(tw/srcW, th/srcH) and centred, exactly fills a tw×th target. The
// overflowing axis is cropped symmetrically; the other axis is kept whole.
func CoverCrop(srcW, srcH, tw, th int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || tw <= 0 || th <= 0 {
		return image.Rectangle{}
	}
	scale := math.Max(float64(tw)/float64(srcW), float64(th)/float64(srcH))
	cropW := int(math.Round(float64(tw) / scale))
	cropH := int(math.Round(float64(th) / scale))
	if cropW > srcW {
		cropW = srcW
	}
	if cropH > srcH {
		cropH = srcH
	}
	x0 := (srcW - cropW) / 2
	y0 := (srcH - cropH) / 2
	return image.Rect(x0, y0, x0+cropW, y0+cropH)
}

// ContainRect returns the largest rectangle with the source's aspect ratio
// that fits inside target, centred.
func ContainRect(srcW, srcH int, target image.Rectangle) image.Rectangle {
	tw, th := target.Dx(), target.Dy()
	if srcW <= 0 || srcH <= 0 || tw <= 0 || th <= 0 {
		return image.Rectangle{}
	}
	scale := math.Min(float64(tw)/float64(srcW), float64(th)/float64(srcH))
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	if w > tw {
		w = tw
	}
	if h > th {
		h = th
	}
	x0 := target.Min.X + (tw-w)/2
	y0 := target.Min.Y + (th-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}
