//go:build !release

package buildmode

const current = Development
