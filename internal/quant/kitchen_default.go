//go:build !nokitchen

package quant

// Default returns the backend compiled into this build.
func Default() Backend {
	return Kitchen{}
}
