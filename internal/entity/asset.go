package entity

import (
	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/detect"
	"github.com/lsa-ts/orgsync/internal/extract"
	"github.com/lsa-ts/orgsync/internal/source"
)

// Asset integrates tracked equipment from the ticketing/asset system,
// its single source. Single-source entities still flow through the full
// pipeline so they get the same capture history, hashing, and quality
// flags as everything else.
func Asset() *Declaration {
	return &Declaration{
		Name: "asset",
		Sources: []SourceBinding{
			{
				Source: "tdx",
				Mode:   detect.ModeTimestamp,
				SignificantFields: []string{
					"Tag", "SerialNumber", "Name", "StatusName",
					"LocationName", "OwningCustomerName", "AcquisitionDate",
					"PurchaseCost",
				},
				Extract: extractAssetTDX,
			},
		},
		Merge: consolidate.Spec{
			EntityType:       "asset",
			BusinessKeyField: "asset_tag",
			Rules: []consolidate.FieldRule{
				{Field: "asset_tag", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "serial_number", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "name", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"},
					Fallback: func(businessKey string) any { return businessKey }},
				{Field: "status", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "location", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "owner_uniqname", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "acquisition_date", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "purchase_cost", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
			},
			Quality: []consolidate.Deduction{
				consolidate.MissingField("serial_number", 0.20),
				consolidate.MissingField("owner_uniqname", 0.10),
				consolidate.MissingField("location", 0.05),
			},
			SignificantFields: []string{
				"asset_tag", "serial_number", "name", "status", "location",
				"owner_uniqname", "acquisition_date", "purchase_cost",
			},
		},
	}
}

func extractAssetTDX(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	tag := extract.NormString(extract.Field(p, "Tag"))

	return []consolidate.SourceRecord{{
		Source:      "tdx",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(tag),
		Fields: map[string]any{
			"asset_tag":        tag,
			"serial_number":    extract.NormString(extract.Field(p, "SerialNumber")),
			"name":             extract.NormString(extract.Field(p, "Name")),
			"status":           extract.NormString(extract.Field(p, "StatusName")),
			"location":         extract.NormString(extract.Field(p, "LocationName")),
			"owner_uniqname":   extract.NormLower(extract.Field(p, "OwningCustomerName")),
			"acquisition_date": extract.ParseDate(extract.Field(p, "AcquisitionDate")),
			"purchase_cost":    extract.ParseDecimal(extract.Field(p, "PurchaseCost")),
		},
	}}, nil
}
