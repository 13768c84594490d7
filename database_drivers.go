//go:build !test

// Production builds register every SQL backend; go test skips them via the
// build tag.
package main

import "survey-map/pkg/storage/drivers"

func init() {
	drivers.Ready()
}
