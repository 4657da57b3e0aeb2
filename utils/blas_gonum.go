//go:build !(cgo && netlib)
// +build !cgo !netlib

package utils

// BLASImplementation names the blas64 backend used by dense fallbacks
var BLASImplementation = "gonum"
