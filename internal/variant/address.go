// Package variant renders address strings and generates the per-UPRN
// AddressVariant rows from the typed relations: one variant per LPI naming
// record, occupier, delivery point, and a parent-level composite.
package variant

import (
	"fmt"
	"strings"

	"abp-pipeline/internal/abp"
)

// Render joins address fields in order with single spaces, skipping empty
// fields and collapsing duplicate consecutive tokens ("HIGH STREET STREET"
// never appears when two fields carry the same trailing word).
func Render(fields ...string) string {
	var tokens []string
	for _, f := range fields {
		for _, tok := range strings.Fields(f) {
			if n := len(tokens); n > 0 && tokens[n-1] == tok {
				continue
			}
			tokens = append(tokens, tok)
		}
	}
	return strings.Join(tokens, " ")
}

// Component renders a SAO or PAO: descriptive text plus the number range.
// "12A" for a single numbered entry, "12A-14B" for a range; an end number
// without a start number is ignored, matching the source data rules.
func Component(text string, startNum *int, startSuffix string, endNum *int, endSuffix string) string {
	var number string
	switch {
	case startNum != nil && endNum == nil:
		number = fmt.Sprintf("%d%s", *startNum, startSuffix)
	case startNum != nil && endNum != nil:
		number = fmt.Sprintf("%d%s-%d%s", *startNum, startSuffix, *endNum, endSuffix)
	}
	switch {
	case text != "" && number != "":
		return text + " " + number
	case text != "":
		return text
	default:
		return number
	}
}

// BaseAddress renders the full LPI address: secondary then primary
// addressable object, street, locality, town, postcode.
func BaseAddress(l abp.LPIAddress) string {
	return Render(
		Component(l.SAOText, l.SAOStartNumber, l.SAOStartSuffix, l.SAOEndNumber, l.SAOEndSuffix),
		Component(l.PAOText, l.PAOStartNumber, l.PAOStartSuffix, l.PAOEndNumber, l.PAOEndSuffix),
		l.StreetDescription,
		l.Locality,
		l.TownName,
		l.Postcode,
	)
}

// DeliveryAddress renders the Royal Mail delivery point text in its fixed
// presentation order.
func DeliveryAddress(d abp.DeliveryPoint) string {
	return Render(
		d.DepartmentName,
		d.OrganisationName,
		d.SubBuildingName,
		d.BuildingName,
		d.BuildingNumber,
		d.DependentThoroughfare,
		d.Thoroughfare,
		d.DoubleDependentLocality,
		d.DependentLocality,
		d.PostTown,
		d.Postcode,
	)
}
