//go:build !embedded

package kernel

import (
	"fmt"
	"path/filepath"
	"plugin"
)

// resolveDynamic loads specURI as a Go plugin shared object. The .so path is
// derived from specURI by replacing each '/' and '@' with an underscore and
// appending .so, resolved relative to the adapter's plugin directory
// (KernelPluginDir). Kernels built for dynamic loading export a package-level
// func NewKernel() Kernel.
func resolveDynamic(specURI string) (Kernel, error) {
	path := filepath.Join(KernelPluginDir, soNameFor(specURI))
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup("NewKernel")
	if err != nil {
		return nil, err
	}
	ctor, ok := sym.(func() Kernel)
	if !ok {
		return nil, fmt.Errorf("kernel: %s: NewKernel has wrong signature", path)
	}
	return ctor(), nil
}

func soNameFor(specURI string) string {
	b := []byte(specURI)
	for i, c := range b {
		if c == '/' || c == '@' {
			b[i] = '_'
		}
	}
	return string(b) + ".so"
}

// KernelPluginDir is the directory dynamic kernel plugins are loaded from.
// Overridable for out-of-tree deployments; nothing in this module assigns
// it, so it stays "." unless a caller sets it.
var KernelPluginDir = "."
