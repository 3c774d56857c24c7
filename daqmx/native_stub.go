//go:build !(daqmx && cgo)

package daqmx

import "errors"

func openNative() (Driver, error) {
	return nil, errors.New("built without the daqmx tag")
}
