//go:build unix

package disk

import (
	"errors"
	"syscall"
)

func isEXDEV(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

func isReadOnly(err error) bool {
	return errors.Is(err, syscall.EROFS)
}
