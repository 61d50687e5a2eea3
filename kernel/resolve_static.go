//go:build embedded

package kernel

import "errors"

// errNoDynamicLoading is returned on embedded builds, which carry no runtime
// loader at all: every kernel must be linked in via Register from an
// init() function.
var errNoDynamicLoading = errors.New("kernel: dynamic plugin loading disabled in embedded build")

func resolveDynamic(specURI string) (Kernel, error) {
	return nil, errNoDynamicLoading
}
