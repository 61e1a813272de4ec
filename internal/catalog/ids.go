package catalog

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var idNamespace = uuid.MustParse("5f0e3f4e-6a0b-4b7c-9d0e-aed000000001")

// AssignIDs fills in missing device IDs. The ID is derived from the record's
// name and coordinates plus the occurrence count of identical records, so an
// unchanged catalog always yields the same IDs and duplicates stay distinct.
func AssignIDs(devices []Device) []Device {
	out := make([]Device, len(devices))
	seen := make(map[string]int, len(devices))
	for i, d := range devices {
		if d.ID == "" {
			key := strings.Join([]string{
				strings.TrimSpace(d.Name),
				strings.TrimSpace(d.Latitude),
				strings.TrimSpace(d.Longitude),
			}, "\x00")
			n := seen[key]
			seen[key] = n + 1
			d.ID = uuid.NewSHA1(idNamespace, []byte(key+"\x00"+strconv.Itoa(n))).String()
		}
		out[i] = d
	}
	return out
}
