//go:build tools
// +build tools

// Package tools tracks the mockgen generator as a module dependency so that
// `go generate` works on a fresh checkout.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
