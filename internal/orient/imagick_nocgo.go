//go:build !cgo

package orient

import "fmt"

// The imagick bindings are cgo-only; without cgo every image takes the
// native rotation path.

func imagickInitialize() {}

func imagickTerminate() {}

func imagickAvailable() bool { return false }

func imagickRotate(src, dst string, rot Rotation) error {
	return fmt.Errorf("imagick rotation requires cgo")
}
