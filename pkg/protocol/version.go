package protocol

import "strings"

// Version is the controller software version advertised to the host.
// MAJOR changes need matching host changes, MINOR may, MICRO never.
const Version = "1.1.0"

// AcceptedHostVersions lists the host MAJOR.MINOR versions this
// controller has been tested against.
var AcceptedHostVersions = []string{"1.0"}

// CompatibleHostVersion reports whether the host-reported version
// string matches the accepted MAJOR.MINOR allow-list. The MICRO part
// is ignored. A mismatch is advisory only; callers log it and carry on.
func CompatibleHostVersion(version string) bool {
	i := strings.LastIndexByte(version, '.')
	if i < 0 {
		return false
	}
	comp := version[:i]
	for _, v := range AcceptedHostVersions {
		if comp == v {
			return true
		}
	}
	return false
}
