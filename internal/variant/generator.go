package variant

import (
	"sort"
	"strconv"
	"time"

	"abp-pipeline/internal/abp"
)

// Variant labels beyond the LPI logical-status labels.
const (
	labelDelivery           = "DELIVERY"
	labelCustomLevel        = "CUSTOM_LEVEL"
	labelBusinessCurrent    = "BUSINESS_CURRENT"
	labelBusinessHistorical = "BUSINESS_HISTORICAL"
	legalSuffix             = "_LEGAL"
)

// Generate produces every address variant for one chunk's relations and
// marks exactly one variant per UPRN as primary. Output order is
// deterministic: (uprn, source precedence, label, address).
func Generate(rel *abp.ChunkRelations) []abp.OutputRow {
	var rows []abp.OutputRow
	seen := make(map[string]bool)

	add := func(row abp.OutputRow) {
		if row.AddressConcat == "" {
			return
		}
		if row.HierarchyLevel == "" {
			// A delivery point can exist for a UPRN with no BLPU record;
			// such a property has no recorded relatives.
			row.HierarchyLevel = abp.LevelSingleton
		}
		key := dedupeKey(row)
		if seen[key] {
			return
		}
		seen[key] = true
		row.ClassificationCode = rel.Classification[row.UPRN]
		if udprn, ok := rel.BestUDPRN[row.UPRN]; ok {
			row.UDPRN = &udprn
		}
		rows = append(rows, row)
	}

	for _, l := range rel.LPIs {
		add(lpiRow(rel, l))
	}
	bestCurrent := bestCurrentByUPRN(rel.LPIs)
	for _, org := range rel.Organisations {
		for _, row := range organisationRows(rel, org, bestCurrent) {
			add(row)
		}
	}
	for _, d := range rel.DeliveryPoints {
		add(deliveryRow(rel, d))
	}
	for _, row := range customLevelRows(rel) {
		add(row)
	}

	markPrimaries(rows)

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.UPRN != b.UPRN {
			return a.UPRN < b.UPRN
		}
		if ra, rb := abp.SourceRank(a.Source), abp.SourceRank(b.Source); ra != rb {
			return ra < rb
		}
		if a.VariantLabel != b.VariantLabel {
			return a.VariantLabel < b.VariantLabel
		}
		return a.AddressConcat < b.AddressConcat
	})
	return rows
}

func dedupeKey(row abp.OutputRow) string {
	return strconv.FormatUint(row.UPRN, 10) + "|" + string(row.Source) + "|" + row.VariantLabel + "|" + row.AddressConcat
}

func lpiRow(rel *abp.ChunkRelations, l abp.LPIAddress) abp.OutputRow {
	status := l.LogicalStatus
	return abp.OutputRow{
		UPRN:              l.UPRN,
		Postcode:          l.Postcode,
		AddressConcat:     BaseAddress(l),
		LogicalStatus:     &status,
		BLPUState:         l.BLPUState,
		PostalAddressCode: l.PostalAddressCode,
		ParentUPRN:        l.ParentUPRN,
		HierarchyLevel:    rel.Hierarchy[l.UPRN],
		Source:            abp.SourceLPI,
		VariantLabel:      abp.StatusLabel(l.LogicalStatus),
	}
}

// bestCurrentByUPRN picks the preferred non-historical LPI per UPRN:
// lowest status rank, then most recently updated, then smallest LPI key.
func bestCurrentByUPRN(lpis []abp.LPIAddress) map[uint64]abp.LPIAddress {
	best := make(map[uint64]abp.LPIAddress)
	for _, l := range lpis {
		if l.LogicalStatus == abp.StatusHistorical {
			continue
		}
		cur, ok := best[l.UPRN]
		if !ok || lpiLess(l, cur) {
			best[l.UPRN] = l
		}
	}
	return best
}

func lpiLess(a, b abp.LPIAddress) bool {
	if ra, rb := abp.StatusRank(a.LogicalStatus), abp.StatusRank(b.LogicalStatus); ra != rb {
		return ra < rb
	}
	at, bt := dateOrZero(a.LastUpdateDate), dateOrZero(b.LastUpdateDate)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.LPIKey < b.LPIKey
}

func dateOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// organisationRows renders occupier variants. A current occupier (no end
// date) pairs with the best current LPI address; a historical occupier pairs
// with the LPI address whose validity window overlaps its tenure. The legal
// name contributes its own variant when it differs from the trading name.
func organisationRows(rel *abp.ChunkRelations, org abp.Organisation, bestCurrent map[uint64]abp.LPIAddress) []abp.OutputRow {
	type name struct {
		value string
		legal bool
	}
	var names []name
	if org.Name != "" {
		names = append(names, name{org.Name, false})
	}
	if org.LegalName != "" && org.LegalName != org.Name {
		names = append(names, name{org.LegalName, true})
	}
	if len(names) == 0 {
		return nil
	}

	var base abp.LPIAddress
	var label string
	if org.EndDate == nil {
		cur, ok := bestCurrent[org.UPRN]
		if !ok {
			return nil
		}
		base, label = cur, labelBusinessCurrent
	} else {
		hist, ok := bestOverlapping(rel.LPIs, org)
		if !ok {
			return nil
		}
		base, label = hist, labelBusinessHistorical
	}

	rows := make([]abp.OutputRow, 0, len(names))
	for _, n := range names {
		status := base.LogicalStatus
		lbl := label
		if n.legal {
			lbl += legalSuffix
		}
		rows = append(rows, abp.OutputRow{
			UPRN:              org.UPRN,
			Postcode:          base.Postcode,
			AddressConcat:     Render(n.value, BaseAddress(base)),
			LogicalStatus:     &status,
			BLPUState:         base.BLPUState,
			PostalAddressCode: base.PostalAddressCode,
			ParentUPRN:        base.ParentUPRN,
			HierarchyLevel:    rel.Hierarchy[org.UPRN],
			Source:            abp.SourceOrganisation,
			VariantLabel:      lbl,
		})
	}
	return rows
}

// bestOverlapping picks the LPI address for a historical occupier: prefer
// addresses whose validity window overlaps the occupier's tenure, then the
// usual status rank / recency / key order.
func bestOverlapping(lpis []abp.LPIAddress, org abp.Organisation) (abp.LPIAddress, bool) {
	var best abp.LPIAddress
	found := false
	bestOverlap := false
	for _, l := range lpis {
		if l.UPRN != org.UPRN {
			continue
		}
		ov := overlaps(l, org)
		better := !found ||
			(ov && !bestOverlap) ||
			(ov == bestOverlap && lpiLess(l, best))
		if better {
			best, bestOverlap, found = l, ov, true
		}
	}
	return best, found
}

func overlaps(l abp.LPIAddress, org abp.Organisation) bool {
	startOK := l.StartDate == nil || (org.EndDate != nil && !org.EndDate.Before(*l.StartDate))
	endOK := l.EndDate == nil || (org.StartDate != nil && !org.StartDate.After(*l.EndDate))
	return startOK && endOK
}

func deliveryRow(rel *abp.ChunkRelations, d abp.DeliveryPoint) abp.OutputRow {
	row := abp.OutputRow{
		UPRN:           d.UPRN,
		Postcode:       d.Postcode,
		AddressConcat:  DeliveryAddress(d),
		HierarchyLevel: rel.Hierarchy[d.UPRN],
		Source:         abp.SourceDeliveryPoint,
		VariantLabel:   labelDelivery,
	}
	if b, ok := rel.BLPUs[d.UPRN]; ok {
		row.BLPUState = b.BLPUState
		row.PostalAddressCode = b.AddressbasePostal
		row.ParentUPRN = b.ParentUPRN
	}
	return row
}

// customLevelRows renders one composite variant per Parent UPRN by
// concatenating its children's best addresses in UPRN order. Parent-level
// mail is often addressed as the whole building, so the composite improves
// matching against a single parent-level mailing address.
func customLevelRows(rel *abp.ChunkRelations) []abp.OutputRow {
	childBest := bestCurrentByUPRN(rel.ChildLPIs)

	byParent := make(map[uint64][]uint64)
	for child, parent := range rel.ChildParent {
		if _, ok := childBest[child]; ok {
			byParent[parent] = append(byParent[parent], child)
		}
	}

	var rows []abp.OutputRow
	for parent, children := range byParent {
		if rel.Hierarchy[parent] != abp.LevelParent {
			continue
		}
		b, ok := rel.BLPUs[parent]
		if !ok {
			continue
		}
		sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })

		parts := make([]string, 0, len(children))
		for _, child := range children {
			parts = append(parts, BaseAddress(childBest[child]))
		}
		rows = append(rows, abp.OutputRow{
			UPRN:              parent,
			Postcode:          b.PostcodeLocator,
			AddressConcat:     Render(parts...),
			BLPUState:         b.BLPUState,
			PostalAddressCode: b.AddressbasePostal,
			ParentUPRN:        b.ParentUPRN,
			HierarchyLevel:    abp.LevelParent,
			Source:            abp.SourceCustomLevel,
			VariantLabel:      labelCustomLevel,
		})
	}
	return rows
}

// markPrimaries flags exactly one variant per UPRN as primary. The
// precedence is total: source order, then lowest logical-status rank, then
// smallest label, then smallest address.
func markPrimaries(rows []abp.OutputRow) {
	primary := make(map[uint64]int)
	for i := range rows {
		j, ok := primary[rows[i].UPRN]
		if !ok || primaryLess(rows[i], rows[j]) {
			primary[rows[i].UPRN] = i
		}
	}
	for _, i := range primary {
		rows[i].IsPrimary = true
	}
}

func primaryLess(a, b abp.OutputRow) bool {
	if ra, rb := abp.SourceRank(a.Source), abp.SourceRank(b.Source); ra != rb {
		return ra < rb
	}
	if ra, rb := statusRankOrMax(a.LogicalStatus), statusRankOrMax(b.LogicalStatus); ra != rb {
		return ra < rb
	}
	if a.VariantLabel != b.VariantLabel {
		return a.VariantLabel < b.VariantLabel
	}
	return a.AddressConcat < b.AddressConcat
}

func statusRankOrMax(status *int) int {
	if status == nil {
		return 9
	}
	return abp.StatusRank(*status)
}
