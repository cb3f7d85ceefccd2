package main

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

// firmwareVersion extracts the "fw=" token from a device_args open
// "key=value,..." string, e.g. "fw=3.2.1,serial=abc" -> "3.2.1".
func firmwareVersion(deviceArgs string) (string, bool) {
	for _, kv := range strings.Split(deviceArgs, ",") {
		kv = strings.TrimSpace(kv)
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == "fw" {
			return v, true
		}
	}
	return "", false
}

// checkMinimumFirmware rejects startup against a device reporting a
// firmware version below minVersion. Naive string inequality breaks
// on non-lexical bumps like "3.9.0" vs "3.10.0", so comparison uses
// proper semver ordering instead. An empty minVersion or an absent
// fw= token disables the check.
func checkMinimumFirmware(deviceArgs, minVersion string) error {
	if minVersion == "" {
		return nil
	}
	reported, ok := firmwareVersion(deviceArgs)
	if !ok {
		return nil
	}

	min, err := version.NewVersion(minVersion)
	if err != nil {
		return fmt.Errorf("version gate: invalid minimum version %q: %w", minVersion, err)
	}
	got, err := version.NewVersion(reported)
	if err != nil {
		return fmt.Errorf("version gate: invalid device firmware version %q: %w", reported, err)
	}

	if got.LessThan(min) {
		return fmt.Errorf("version gate: device firmware %s is below required minimum %s", got, min)
	}
	return nil
}
