package sdr

import "errors"

// ErrUnsupported is returned by a Device implementation for a
// capability it does not provide (e.g. fileout's ReceiveBurst):
// degraded backends simply reject the features they cannot offer.
var ErrUnsupported = errors.New("sdr: capability not supported by this backend")

// ErrNoSensor is returned by Sensor when the named sensor does not
// exist on this device.
var ErrNoSensor = errors.New("sdr: sensor not present")
