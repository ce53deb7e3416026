package metadata

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// dmsPattern matches exiftool's human-readable coordinate form, for example
// `35 deg 24' 23.40"`.
var dmsPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*deg\s*(\d+(?:\.\d+)?)'\s*(\d+(?:\.\d+)?)"?\s*([NSEW])?\s*$`)

// parseCoordinate converts an exiftool GPS value plus its hemisphere
// reference into signed decimal degrees. South and west are negative.
// Returns nil when the value is absent or unparseable, GPS is optional
// on trail cameras.
func parseCoordinate(raw any, ref string) *float64 {
	var decimal float64
	var hemisphere string

	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		// exiftool emits plain decimal when invoked with -n or when the
		// tag is already decimal.
		decimal = v
	case string:
		d, h, err := parseDMS(v)
		if err != nil {
			return nil
		}
		decimal = d
		hemisphere = h
	default:
		return nil
	}

	if hemisphere == "" {
		hemisphere = hemisphereLetter(ref)
	}
	if hemisphere == "S" || hemisphere == "W" {
		decimal = -decimal
	}
	return &decimal
}

// parseDMS converts a degrees/minutes/seconds string into unsigned decimal
// degrees, returning any hemisphere letter embedded in the value itself.
func parseDMS(raw string) (decimal float64, hemisphere string, err error) {
	m := dmsPattern.FindStringSubmatch(raw)
	if m == nil {
		// Some firmware writes plain decimal into the string field.
		d, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if perr != nil {
			return 0, "", fmt.Errorf("unrecognized coordinate %q", raw)
		}
		return d, "", nil
	}

	deg, _ := strconv.ParseFloat(m[1], 64)
	min, _ := strconv.ParseFloat(m[2], 64)
	sec, _ := strconv.ParseFloat(m[3], 64)

	return deg + min/60 + sec/3600, m[4], nil
}

// hemisphereLetter normalizes a GPS reference ("North", "n", "S") to a
// single uppercase letter, or empty when absent.
func hemisphereLetter(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	return strings.ToUpper(ref[:1])
}
