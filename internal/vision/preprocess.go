package vision

import (
	"image"

	"github.com/disintegration/imaging"
)

// YOLOv8 takes RGB scaled to [0, 1].
func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{0, 0, 0}, [3]float32{255, 255, 255})
}

// imageToFloat32CHW converts an image to CHW float32 format with normalization:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	w, h := resized.Rect.Dx(), resized.Rect.Dy()
	plane := h * w

	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			idx := y*w + x
			data[idx] = (float32(px[0]) - mean[0]) / std[0]
			data[plane+idx] = (float32(px[1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(px[2]) - mean[2]) / std[2]
		}
	}
	return data
}

// resizeImage stretches img to the model input with bilinear filtering.
// Camera frames are opaque, so NRGBA bytes are plain RGB.
func resizeImage(img image.Image, targetW, targetH int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == targetW && b.Dy() == targetH {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, targetW, targetH, imaging.Linear)
}
