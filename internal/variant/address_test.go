package variant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"abp-pipeline/internal/abp"
)

func intp(n int) *int { return &n }

func TestRenderSkipsEmptyFields(t *testing.T) {
	assert.Equal(t, "1 HIGH STREET TESTVILLE", Render("1", "", "HIGH STREET", "", "TESTVILLE"))
	assert.Equal(t, "", Render("", "", ""))
}

func TestRenderCollapsesDuplicateTokens(t *testing.T) {
	// "HIGH STREET" followed by locality "STREET" must not double the word.
	assert.Equal(t, "HIGH STREET END", Render("HIGH STREET", "STREET END"))
	// Non-consecutive repeats survive.
	assert.Equal(t, "MILL LANE OLD MILL", Render("MILL LANE", "OLD MILL"))
}

func TestComponent(t *testing.T) {
	assert.Equal(t, "12", Component("", intp(12), "", nil, ""))
	assert.Equal(t, "12A", Component("", intp(12), "A", nil, ""))
	assert.Equal(t, "12A-14B", Component("", intp(12), "A", intp(14), "B"))
	assert.Equal(t, "ANNEX", Component("ANNEX", nil, "", nil, ""))
	assert.Equal(t, "ANNEX 12", Component("ANNEX", intp(12), "", nil, ""))
	// An end number without a start number is ignored.
	assert.Equal(t, "", Component("", nil, "", intp(14), ""))
}

func TestBaseAddress(t *testing.T) {
	l := abp.LPIAddress{
		PAOStartNumber:    intp(1),
		StreetDescription: "HIGH STREET",
		TownName:          "TESTVILLE",
		Postcode:          "TE1 1ST",
	}
	assert.Equal(t, "1 HIGH STREET TESTVILLE TE1 1ST", BaseAddress(l))
}

func TestBaseAddressWithSecondary(t *testing.T) {
	l := abp.LPIAddress{
		SAOText:           "FLAT",
		SAOStartNumber:    intp(2),
		PAOStartNumber:    intp(10),
		PAOStartSuffix:    "A",
		StreetDescription: "STATION ROAD",
		Locality:          "NORTH END",
		TownName:          "TESTVILLE",
		Postcode:          "TE2 3XY",
	}
	assert.Equal(t, "FLAT 2 10A STATION ROAD NORTH END TESTVILLE TE2 3XY", BaseAddress(l))
}

func TestDeliveryAddress(t *testing.T) {
	d := abp.DeliveryPoint{
		OrganisationName: "ACME LTD",
		BuildingNumber:   "7",
		Thoroughfare:     "HIGH STREET",
		PostTown:         "TESTVILLE",
		Postcode:         "TE1 1ST",
	}
	assert.Equal(t, "ACME LTD 7 HIGH STREET TESTVILLE TE1 1ST", DeliveryAddress(d))
}
