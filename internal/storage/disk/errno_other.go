//go:build !unix

package disk

func isEXDEV(error) bool { return false }

func isReadOnly(error) bool { return false }
