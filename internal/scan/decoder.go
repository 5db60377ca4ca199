// Package scan drives the camera, decodes QR payloads from frames and runs the scan
// session state machine.
package scan

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

var (
	// ErrNotReady means the stream has no usable frame yet. Retry on the next tick.
	ErrNotReady = errors.New("frame not ready")
	// ErrNoCode means the frame holds no readable QR code.
	ErrNoCode = errors.New("no qr code in frame")
	// ErrRaster is a fatal decoder fault: no stream, or a frame that cannot be binarized.
	ErrRaster = errors.New("decode raster unavailable")
	// ErrStreamClosed is returned by streams after Close.
	ErrStreamClosed = errors.New("stream closed")
)

// Stream is an open camera stream owned by one scan session.
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// Decoder extracts QR payloads from stream frames. The raster it draws into is private and
// reused while frame dimensions are stable. Not safe for concurrent use.
type Decoder struct {
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
	raster *image.RGBA
}

func NewDecoder() *Decoder {
	return &Decoder{
		reader: qrcode.NewQRCodeReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode reads the current frame of stream and returns the QR payload it carries.
func (d *Decoder) Decode(stream Stream) (string, error) {
	if stream == nil {
		return "", fmt.Errorf("%w: no stream", ErrRaster)
	}
	frame, err := stream.Frame()
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			return "", ErrNotReady
		}
		return "", fmt.Errorf("%w: %v", ErrRaster, err)
	}
	if frame == nil {
		return "", ErrNotReady
	}
	b := frame.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return "", ErrNotReady
	}

	raster := d.rasterFor(b.Dx(), b.Dy())
	draw.Draw(raster, raster.Bounds(), frame, b.Min, draw.Src)

	bmp, err := gozxing.NewBinaryBitmapFromImage(raster)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRaster, err)
	}
	d.reader.Reset()
	res, err := d.reader.Decode(bmp, d.hints)
	if err != nil {
		return "", ErrNoCode
	}
	return res.GetText(), nil
}

func (d *Decoder) rasterFor(w, h int) *image.RGBA {
	if d.raster == nil || d.raster.Rect.Dx() != w || d.raster.Rect.Dy() != h {
		d.raster = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return d.raster
}
