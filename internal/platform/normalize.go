package platform

import "strings"

var familyMap = map[string]string{
	"debian":   FamilyDebian,
	"ubuntu":   FamilyDebian,
	"rhel":     FamilyRHEL,
	"centos":   FamilyRHEL,
	"rocky":    FamilyRHEL,
	"fedora":   FamilyFedora,
	"suse":     FamilySUSE,
	"opensuse": FamilySUSE,
	"arch":     FamilyArch,
	"manjaro":  FamilyArch,
	"alpine":   FamilyAlpine,
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// mapFamily maps a gopsutil family string to a canonical family name.
func mapFamily(family string) string {
	if canonical, ok := familyMap[normalize(family)]; ok {
		return canonical
	}
	return FamilyUnknown
}
