// Package normalisers holds the helpers shared by the per-source
// normalisers. Each sub-package implements driven.Normaliser for one
// source tag and is registered with the source registry at startup.
package normalisers
