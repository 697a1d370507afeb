//go:build cgo

package orient

import (
	"fmt"
	"os/exec"

	"gopkg.in/gographics/imagick.v3/imagick"
)

func imagickInitialize() { imagick.Initialize() }

func imagickTerminate() { imagick.Terminate() }

func imagickAvailable() bool {
	_, err := exec.LookPath("convert")
	return err == nil
}

func imagickRotate(src, dst string, rot Rotation) error {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(src); err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	pw := imagick.NewPixelWand()
	defer pw.Destroy()
	pw.SetColor("black")

	// MagickWand rotates clockwise for positive degrees.
	cw := float64((360 - int(rot)) % 360)
	if err := mw.RotateImage(pw, cw); err != nil {
		return fmt.Errorf("rotate %s: %w", src, err)
	}
	if err := mw.WriteImage(dst); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
