//go:build !(dio64 && cgo)

package dio64

import "errors"

func openNative() (Driver, error) {
	return nil, errors.New("built without the dio64 tag")
}
