//go:build nokitchen

package quant

// Default returns a backend that fails every call; built with the nokitchen tag.
func Default() Backend {
	return Unavailable{Reason: "built with the nokitchen tag"}
}
