package flatfile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"abp-pipeline/internal/abp"
)

// Loader pulls one chunk's relation rows out of the parquet-backed views.
// Only rows whose UPRN (or whose parent UPRN, for child lookups) falls in
// the chunk range are materialised, which is what bounds peak memory.
type Loader struct {
	db *sql.DB
}

// NewLoader creates a Loader. The caller must have registered the relation
// views and the street-descriptor helper views first.
func NewLoader(db *sql.DB) *Loader {
	return &Loader{db: db}
}

// PrepareStreetViews creates the best-street-descriptor views used by every
// chunk: best per (usrn, language) and best per usrn in any language.
func PrepareStreetViews(ctx context.Context, db *sql.DB) error {
	views := []string{
		`CREATE OR REPLACE TEMP VIEW sd_best_lang AS
		 SELECT * FROM (
		   SELECT sd.*, ROW_NUMBER() OVER (
		     PARTITION BY sd.usrn, sd.language
		     ORDER BY COALESCE(sd.end_date, DATE '9999-12-31') DESC,
		              COALESCE(sd.last_update_date, DATE '0001-01-01') DESC
		   ) AS rn
		   FROM street_descriptor sd
		 ) WHERE rn = 1`,
		`CREATE OR REPLACE TEMP VIEW sd_best_any AS
		 SELECT * FROM (
		   SELECT sd.*, ROW_NUMBER() OVER (
		     PARTITION BY sd.usrn
		     ORDER BY COALESCE(sd.end_date, DATE '9999-12-31') DESC,
		              COALESCE(sd.last_update_date, DATE '0001-01-01') DESC
		   ) AS rn
		   FROM street_descriptor sd
		 ) WHERE rn = 1`,
	}
	for _, v := range views {
		if _, err := db.ExecContext(ctx, v); err != nil {
			return fmt.Errorf("prepare street views: %w", err)
		}
	}
	return nil
}

// Load returns every relation row the variant generator needs for one chunk.
func (ld *Loader) Load(ctx context.Context, r Range) (*abp.ChunkRelations, error) {
	rel := &abp.ChunkRelations{
		BLPUs:          make(map[uint64]abp.BLPUInfo),
		Classification: make(map[uint64]string),
		BestUDPRN:      make(map[uint64]int64),
		Hierarchy:      make(map[uint64]abp.HierarchyLevel),
		ChildParent:    make(map[uint64]uint64),
	}
	if r.Empty() {
		return rel, nil
	}

	steps := []func(context.Context, Range, *abp.ChunkRelations) error{
		ld.loadBLPUs,
		ld.loadLPIs,
		ld.loadChildLPIs,
		ld.loadOrganisations,
		ld.loadDeliveryPoints,
		ld.loadClassification,
		ld.loadBestUDPRN,
		ld.loadHierarchy,
	}
	for _, step := range steps {
		if err := step(ctx, r, rel); err != nil {
			return nil, err
		}
	}
	return rel, nil
}

func (ld *Loader) loadBLPUs(ctx context.Context, r Range, rel *abp.ChunkRelations) error {
	rows, err := ld.db.QueryContext(ctx, `
		SELECT uprn, COALESCE(logical_status, 0), blpu_state, parent_uprn,
		       COALESCE(postcode_locator, ''), COALESCE(addressbase_postal, '')
		FROM blpu WHERE uprn BETWEEN ? AND ?`, r.Lo, r.Hi)
	if err != nil {
		return fmt.Errorf("load blpu chunk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b abp.BLPUInfo
		var state sql.NullInt32
		var parent sql.Null[uint64]
		if err := rows.Scan(&b.UPRN, &b.LogicalStatus, &state, &parent,
			&b.PostcodeLocator, &b.AddressbasePostal); err != nil {
			return fmt.Errorf("scan blpu: %w", err)
		}
		b.BLPUState = nullableInt(state)
		b.ParentUPRN = nullableUint(parent)
		rel.BLPUs[b.UPRN] = b
	}
	return rows.Err()
}

// lpiSelect joins each eligible LPI with its BLPU and the best street
// descriptor (LPI's own language first, any language as fallback). The
// logical-status allow-list and the non-postal BLPU filter mirror the
// published AddressBase guidance.
const lpiSelect = `
	SELECT l.uprn, COALESCE(l.lpi_key, ''), COALESCE(l.language, ''),
	       l.logical_status, COALESCE(l.official_flag, ''),
	       l.start_date, l.end_date, l.last_update_date,
	       COALESCE(l.sao_text, ''), l.sao_start_number, COALESCE(l.sao_start_suffix, ''),
	       l.sao_end_number, COALESCE(l.sao_end_suffix, ''),
	       COALESCE(l.pao_text, ''), l.pao_start_number, COALESCE(l.pao_start_suffix, ''),
	       l.pao_end_number, COALESCE(l.pao_end_suffix, ''),
	       COALESCE(sd_lang.street_description, sd_any.street_description, ''),
	       COALESCE(sd_lang.locality, sd_any.locality, ''),
	       COALESCE(sd_lang.town_name, sd_any.town_name, ''),
	       COALESCE(b.postcode_locator, ''), b.blpu_state,
	       COALESCE(b.addressbase_postal, ''), b.parent_uprn
	FROM lpi l
	JOIN blpu b ON b.uprn = l.uprn
	LEFT JOIN sd_best_lang sd_lang ON sd_lang.usrn = l.usrn AND sd_lang.language = l.language
	LEFT JOIN sd_best_any sd_any ON sd_any.usrn = l.usrn
	WHERE %s
	  AND l.logical_status IN (1, 3, 6, 8)
	  AND (b.addressbase_postal IS NULL OR b.addressbase_postal <> 'N')`

func (ld *Loader) loadLPIs(ctx context.Context, r Range, rel *abp.ChunkRelations) error {
	q := fmt.Sprintf(lpiSelect, "l.uprn BETWEEN ? AND ?")
	lpis, _, err := ld.queryLPIs(ctx, q, r.Lo, r.Hi)
	if err != nil {
		return fmt.Errorf("load lpi chunk: %w", err)
	}
	rel.LPIs = lpis
	return nil
}

// loadChildLPIs fetches the LPI rows of any UPRN whose BLPU names a parent
// inside the chunk range. Children can live outside the range; the parent's
// composite variant still needs their addresses.
func (ld *Loader) loadChildLPIs(ctx context.Context, r Range, rel *abp.ChunkRelations) error {
	q := fmt.Sprintf(lpiSelect, "b.parent_uprn BETWEEN ? AND ?")
	lpis, parents, err := ld.queryLPIs(ctx, q, r.Lo, r.Hi)
	if err != nil {
		return fmt.Errorf("load child lpi chunk: %w", err)
	}
	rel.ChildLPIs = lpis
	for i, l := range lpis {
		if parents[i] != nil {
			rel.ChildParent[l.UPRN] = *parents[i]
		}
	}
	return nil
}

func (ld *Loader) queryLPIs(ctx context.Context, query string, lo, hi uint64) ([]abp.LPIAddress, []*uint64, error) {
	rows, err := ld.db.QueryContext(ctx, query, lo, hi)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var lpis []abp.LPIAddress
	var parents []*uint64
	for rows.Next() {
		var l abp.LPIAddress
		var start, end, updated sql.NullTime
		var saoStart, saoEnd, paoStart, paoEnd, state sql.NullInt32
		var parent sql.Null[uint64]
		if err := rows.Scan(
			&l.UPRN, &l.LPIKey, &l.Language, &l.LogicalStatus, &l.OfficialFlag,
			&start, &end, &updated,
			&l.SAOText, &saoStart, &l.SAOStartSuffix, &saoEnd, &l.SAOEndSuffix,
			&l.PAOText, &paoStart, &l.PAOStartSuffix, &paoEnd, &l.PAOEndSuffix,
			&l.StreetDescription, &l.Locality, &l.TownName,
			&l.Postcode, &state, &l.PostalAddressCode, &parent,
		); err != nil {
			return nil, nil, err
		}
		l.StartDate = nullableTime(start)
		l.EndDate = nullableTime(end)
		l.LastUpdateDate = nullableTime(updated)
		l.SAOStartNumber = nullableInt(saoStart)
		l.SAOEndNumber = nullableInt(saoEnd)
		l.PAOStartNumber = nullableInt(paoStart)
		l.PAOEndNumber = nullableInt(paoEnd)
		l.BLPUState = nullableInt(state)
		l.ParentUPRN = nullableUint(parent)
		lpis = append(lpis, l)
		parents = append(parents, l.ParentUPRN)
	}
	return lpis, parents, rows.Err()
}

func (ld *Loader) loadOrganisations(ctx context.Context, r Range, rel *abp.ChunkRelations) error {
	rows, err := ld.db.QueryContext(ctx, `
		SELECT uprn, TRIM(COALESCE(organisation, '')), TRIM(COALESCE(legal_name, '')),
		       start_date, end_date
		FROM organisation WHERE uprn BETWEEN ? AND ?`, r.Lo, r.Hi)
	if err != nil {
		return fmt.Errorf("load organisation chunk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o abp.Organisation
		var start, end sql.NullTime
		if err := rows.Scan(&o.UPRN, &o.Name, &o.LegalName, &start, &end); err != nil {
			return fmt.Errorf("scan organisation: %w", err)
		}
		o.StartDate = nullableTime(start)
		o.EndDate = nullableTime(end)
		rel.Organisations = append(rel.Organisations, o)
	}
	return rows.Err()
}

func (ld *Loader) loadDeliveryPoints(ctx context.Context, r Range, rel *abp.ChunkRelations) error {
	rows, err := ld.db.QueryContext(ctx, `
		SELECT uprn, udprn,
		       COALESCE(department_name, ''), COALESCE(organisation_name, ''),
		       COALESCE(sub_building_name, ''), COALESCE(building_name, ''),
		       COALESCE(building_number, ''),
		       COALESCE(dependent_thoroughfare, ''), COALESCE(thoroughfare, ''),
		       COALESCE(double_dependent_locality, ''), COALESCE(dependent_locality, ''),
		       COALESCE(post_town, ''), postcode
		FROM delivery_point
		WHERE uprn BETWEEN ? AND ? AND postcode IS NOT NULL AND udprn IS NOT NULL`,
		r.Lo, r.Hi)
	if err != nil {
		return fmt.Errorf("load delivery point chunk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d abp.DeliveryPoint
		if err := rows.Scan(&d.UPRN, &d.UDPRN,
			&d.DepartmentName, &d.OrganisationName,
			&d.SubBuildingName, &d.BuildingName, &d.BuildingNumber,
			&d.DependentThoroughfare, &d.Thoroughfare,
			&d.DoubleDependentLocality, &d.DependentLocality,
			&d.PostTown, &d.Postcode); err != nil {
			return fmt.Errorf("scan delivery point: %w", err)
		}
		rel.DeliveryPoints = append(rel.DeliveryPoints, d)
	}
	return rows.Err()
}

// loadClassification keeps only the currently-valid classification per UPRN:
// the Premium scheme wins over local schemes, then the latest end date, then
// the latest update.
func (ld *Loader) loadClassification(ctx context.Context, r Range, rel *abp.ChunkRelations) error {
	rows, err := ld.db.QueryContext(ctx, `
		SELECT uprn, classification_code FROM (
			SELECT uprn, classification_code, ROW_NUMBER() OVER (
				PARTITION BY uprn
				ORDER BY
					CASE WHEN class_scheme = 'AddressBase Premium Classification Scheme' THEN 0 ELSE 1 END,
					COALESCE(end_date, DATE '9999-12-31') DESC,
					COALESCE(last_update_date, DATE '0001-01-01') DESC,
					classification_code
			) AS rn
			FROM classification
			WHERE uprn BETWEEN ? AND ? AND classification_code IS NOT NULL
		) WHERE rn = 1`, r.Lo, r.Hi)
	if err != nil {
		return fmt.Errorf("load classification chunk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uprn uint64
		var code string
		if err := rows.Scan(&uprn, &code); err != nil {
			return fmt.Errorf("scan classification: %w", err)
		}
		rel.Classification[uprn] = code
	}
	return rows.Err()
}

func (ld *Loader) loadBestUDPRN(ctx context.Context, r Range, rel *abp.ChunkRelations) error {
	rows, err := ld.db.QueryContext(ctx, `
		SELECT uprn, udprn FROM (
			SELECT uprn, udprn, ROW_NUMBER() OVER (
				PARTITION BY uprn
				ORDER BY
					COALESCE(end_date, DATE '9999-12-31') DESC,
					COALESCE(last_update_date, DATE '0001-01-01') DESC,
					udprn
			) AS rn
			FROM delivery_point
			WHERE uprn BETWEEN ? AND ? AND udprn IS NOT NULL
		) WHERE rn = 1`, r.Lo, r.Hi)
	if err != nil {
		return fmt.Errorf("load delivery point keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uprn uint64
		var udprn int64
		if err := rows.Scan(&uprn, &udprn); err != nil {
			return fmt.Errorf("scan delivery point key: %w", err)
		}
		rel.BestUDPRN[uprn] = udprn
	}
	return rows.Err()
}

func (ld *Loader) loadHierarchy(ctx context.Context, r Range, rel *abp.ChunkRelations) error {
	rows, err := ld.db.QueryContext(ctx, `
		SELECT uprn, hierarchy_level FROM hierarchy WHERE uprn BETWEEN ? AND ?`, r.Lo, r.Hi)
	if err != nil {
		return fmt.Errorf("load hierarchy chunk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uprn uint64
		var level string
		if err := rows.Scan(&uprn, &level); err != nil {
			return fmt.Errorf("scan hierarchy: %w", err)
		}
		rel.Hierarchy[uprn] = abp.HierarchyLevel(level)
	}
	return rows.Err()
}

func nullableInt(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}

func nullableUint(v sql.Null[uint64]) *uint64 {
	if !v.Valid {
		return nil
	}
	u := v.V
	return &u
}

func nullableTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
