package wazuh

// Distro is the closed enumeration of operating system releases the engine
// understands. It is the key under which catalog rows and agent inventories
// are partitioned.
type Distro string

// Supported distributions.
const (
	UbuntuPrecise Distro = "precise"
	UbuntuTrusty  Distro = "trusty"
	UbuntuXenial  Distro = "xenial"
	RHEL5         Distro = "rhel5"
	RHEL6         Distro = "rhel6"
	RHEL7         Distro = "rhel7"
)

// Family selects XML dialect and version-comparison rules for a Distro.
type Family string

const (
	Ubuntu  Family = "ubuntu"
	RedHat  Family = "redhat"
)

// distroInfo holds the canonical display string and family for a Distro.
type distroInfo struct {
	display string
	family  Family
}

var distroTable = map[Distro]distroInfo{
	UbuntuPrecise: {display: "Ubuntu Precise", family: Ubuntu},
	UbuntuTrusty:  {display: "Ubuntu Trusty", family: Ubuntu},
	UbuntuXenial:  {display: "Ubuntu Xenial", family: Ubuntu},
	RHEL5:         {display: "Red Hat Enterprise Linux 5", family: RedHat},
	RHEL6:         {display: "Red Hat Enterprise Linux 6", family: RedHat},
	RHEL7:         {display: "Red Hat Enterprise Linux 7", family: RedHat},
}

// AllDistros lists every supported distribution tag, Ubuntu releases first
// then Red Hat releases, matching the family ordering the Scheduler drives
// refreshes in (spec.md §4.1).
var AllDistros = []Distro{
	UbuntuPrecise, UbuntuTrusty, UbuntuXenial,
	RHEL5, RHEL6, RHEL7,
}

// Valid reports whether d is a recognized distribution tag.
func (d Distro) Valid() bool {
	_, ok := distroTable[d]
	return ok
}

// String returns the canonical display string (spec.md §3): the value
// written into the catalog's OS column.
func (d Distro) String() string {
	if info, ok := distroTable[d]; ok {
		return info.display
	}
	return string(d)
}

// Family returns the OS family that selects XML dialect and version rules.
func (d Distro) Family() Family {
	return distroTable[d].family
}

// UbuntuDistros and RedHatDistros return the members of each family in the
// fixed refresh order the Scheduler uses.
func UbuntuDistros() []Distro {
	return []Distro{UbuntuPrecise, UbuntuTrusty, UbuntuXenial}
}

func RedHatDistros() []Distro {
	return []Distro{RHEL5, RHEL6, RHEL7}
}
