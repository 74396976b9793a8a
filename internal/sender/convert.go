package sender

import "image"

// ToBGRA packs img into dst as premultiplied BGRA rows of stride bytes
// covering width x height pixels. Pixels outside img are written as
// transparent black.
func ToBGRA(dst []byte, stride, width, height int, img *image.RGBA) {
	var (
		b     = img.Bounds()
		cols  = min(width, b.Dx())
		rows  = min(height, b.Dy())
		row   = width * 4
		copyN = cols * 4
	)

	for y := 0; y < height; y++ {
		line := dst[y*stride : y*stride+row]
		if y >= rows {
			clear(line)
			continue
		}

		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		src := img.Pix[off : off+copyN]
		for i := 0; i < copyN; i += 4 {
			line[i] = src[i+2]
			line[i+1] = src[i+1]
			line[i+2] = src[i]
			line[i+3] = src[i+3]
		}
		clear(line[copyN:])
	}
}
