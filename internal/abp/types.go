// Package abp holds the shared domain types of the AddressBase Premium
// flatfile pipeline: the typed relation rows produced by the splitter, the
// hierarchy roles, and the flattened output row consumed by the address
// matcher downstream.
package abp

import "time"

// HierarchyLevel is the local role of a UPRN in the parent/child graph.
type HierarchyLevel string

const (
	LevelChild     HierarchyLevel = "C"
	LevelParent    HierarchyLevel = "P"
	LevelSingleton HierarchyLevel = "S"
)

// Source identifies which relation an address variant was rendered from.
type Source string

const (
	SourceLPI           Source = "LPI"
	SourceOrganisation  Source = "ORGANISATION"
	SourceDeliveryPoint Source = "DELIVERY_POINT"
	SourceCustomLevel   Source = "CUSTOM_LEVEL"
)

// sourceRank orders sources for primary-variant selection. Lower wins.
var sourceRank = map[Source]int{
	SourceLPI:           0,
	SourceOrganisation:  1,
	SourceDeliveryPoint: 2,
	SourceCustomLevel:   3,
}

// SourceRank returns the primary-selection precedence of a source.
// Unknown sources sort last.
func SourceRank(s Source) int {
	if r, ok := sourceRank[s]; ok {
		return r
	}
	return len(sourceRank)
}

// LPI logical status codes as published by Ordnance Survey.
const (
	StatusApproved    = 1
	StatusAlternative = 3
	StatusProvisional = 6
	StatusHistorical  = 8
)

// StatusRank maps an LPI logical status to its preference order
// (approved before alternative before provisional before historical).
func StatusRank(logicalStatus int) int {
	switch logicalStatus {
	case StatusApproved:
		return 0
	case StatusAlternative:
		return 1
	case StatusProvisional:
		return 2
	case StatusHistorical:
		return 3
	default:
		return 9
	}
}

// StatusLabel is the variant label assigned to an LPI naming variant.
func StatusLabel(logicalStatus int) string {
	switch logicalStatus {
	case StatusApproved:
		return "APPROVED"
	case StatusAlternative:
		return "ALTERNATIVE"
	case StatusProvisional:
		return "PROVISIONAL"
	case StatusHistorical:
		return "HISTORICAL"
	default:
		return "UNKNOWN"
	}
}

// BLPUInfo carries the BLPU attributes that every variant of a UPRN inherits.
type BLPUInfo struct {
	UPRN              uint64
	LogicalStatus     int
	BLPUState         *int
	ParentUPRN        *uint64
	PostcodeLocator   string
	AddressbasePostal string
}

// LPIAddress is an LPI naming variant joined with its BLPU and the best
// street descriptor for its USRN, as loaded per chunk. Street fields are
// resolved by the loader (best by the LPI's language, any-language fallback)
// so rendering never touches the street relation again.
type LPIAddress struct {
	UPRN           uint64
	LPIKey         string
	Language       string
	LogicalStatus  int
	OfficialFlag   string
	StartDate      *time.Time
	EndDate        *time.Time
	LastUpdateDate *time.Time

	SAOText        string
	SAOStartNumber *int
	SAOStartSuffix string
	SAOEndNumber   *int
	SAOEndSuffix   string
	PAOText        string
	PAOStartNumber *int
	PAOStartSuffix string
	PAOEndNumber   *int
	PAOEndSuffix   string

	StreetDescription string
	Locality          string
	TownName          string

	Postcode          string
	BLPUState         *int
	PostalAddressCode string
	ParentUPRN        *uint64
}

// Organisation is one occupier record for a UPRN. A nil EndDate means the
// occupier is current.
type Organisation struct {
	UPRN      uint64
	Name      string
	LegalName string
	StartDate *time.Time
	EndDate   *time.Time
}

// DeliveryPoint is the Royal Mail delivery point text for a UPRN.
type DeliveryPoint struct {
	UPRN                    uint64
	UDPRN                   int64
	DepartmentName          string
	OrganisationName        string
	SubBuildingName         string
	BuildingName            string
	BuildingNumber          string
	DependentThoroughfare   string
	Thoroughfare            string
	DoubleDependentLocality string
	DependentLocality       string
	PostTown                string
	Postcode                string
}

// ChunkRelations is everything the variant generator needs for one UPRN
// range: the chunk's own relation rows plus the LPI rows of any children of
// chunk parents (children may fall outside the range).
type ChunkRelations struct {
	BLPUs          map[uint64]BLPUInfo
	LPIs           []LPIAddress
	Organisations  []Organisation
	DeliveryPoints []DeliveryPoint

	// Derived lookups, keyed by UPRN.
	Classification map[uint64]string
	BestUDPRN      map[uint64]int64
	Hierarchy      map[uint64]HierarchyLevel

	// ChildLPIs holds LPI rows for UPRNs whose BLPU names a parent inside
	// the chunk range; ChildParent maps those child UPRNs to that parent.
	ChildLPIs   []LPIAddress
	ChildParent map[uint64]uint64
}

// OutputRow is one flattened address variant, exactly as persisted to the
// chunk parquet files. Immutable once written.
type OutputRow struct {
	UPRN               uint64
	Postcode           string
	AddressConcat      string
	ClassificationCode string
	LogicalStatus      *int
	BLPUState          *int
	PostalAddressCode  string
	UDPRN              *int64
	ParentUPRN         *uint64
	HierarchyLevel     HierarchyLevel
	Source             Source
	VariantLabel       string
	IsPrimary          bool
}
