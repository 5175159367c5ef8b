package entity

import (
	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/detect"
	"github.com/lsa-ts/orgsync/internal/extract"
	"github.com/lsa-ts/orgsync/internal/source"
)

// adPathPrefixes are directory containers that precede the organizational
// portion of an AD path and carry no placement information.
var adPathPrefixes = []string{"Computers", "Workstations", "Users"}

// Computer integrates managed machines. The ticketing system knows the
// purchase-side identity (asset tag, model); the directory export knows
// the operational identity (hostname, OS, OU placement, last logon).
// Serial number is the only identifier both sides agree on.
func Computer() *Declaration {
	return &Declaration{
		Name: "computer",
		Sources: []SourceBinding{
			{
				Source: "tdx",
				Mode:   detect.ModeTimestamp,
				SignificantFields: []string{
					"SerialNumber", "Tag", "Name", "ProductModelName", "StatusName",
				},
				Extract: extractComputerTDX,
			},
			{
				Source: "ad",
				Mode:   detect.ModeTimestamp,
				SignificantFields: []string{
					"serialNumber", "name", "operatingSystem",
					"operatingSystemVersion", "ouPath", "lastLogonTimestamp",
				},
				Extract: extractComputerAD,
			},
		},
		Merge: consolidate.Spec{
			EntityType:       "computer",
			BusinessKeyField: "serial_number",
			Rules: []consolidate.FieldRule{
				{Field: "serial_number", Kind: consolidate.Priority, Sources: []string{"tdx", "ad"}},
				{Field: "hostname", Kind: consolidate.Priority, Sources: []string{"ad", "tdx"}, From: "name"},
				{Field: "asset_tag", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "model", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "status", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "os", Kind: consolidate.SourceExclusive, Sources: []string{"ad"}},
				{Field: "os_version", Kind: consolidate.SourceExclusive, Sources: []string{"ad"}},
				{Field: "ou_department", Kind: consolidate.SourceExclusive, Sources: []string{"ad"}},
				{Field: "last_logon", Kind: consolidate.SourceExclusive, Sources: []string{"ad"}},
			},
			Quality: []consolidate.Deduction{
				consolidate.MissingField("hostname", 0.15),
				consolidate.MissingSource("ad", 0.15),
				consolidate.MissingSource("tdx", 0.10),
				consolidate.FieldMismatch("name", "tdx", "ad", 0.05),
			},
			SignificantFields: []string{
				"serial_number", "hostname", "asset_tag", "model", "status",
				"os", "os_version", "ou_department", "last_logon",
			},
		},
	}
}

func extractComputerTDX(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	serial := extract.NormString(extract.Field(p, "SerialNumber"))

	return []consolidate.SourceRecord{{
		Source:      "tdx",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(serial),
		Fields: map[string]any{
			"serial_number": serial,
			"asset_tag":     extract.NormString(extract.Field(p, "Tag")),
			"name":          extract.NormString(extract.Field(p, "Name")),
			"model":         extract.NormString(extract.Field(p, "ProductModelName")),
			"status":        extract.NormString(extract.Field(p, "StatusName")),
		},
	}}, nil
}

func extractComputerAD(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	serial := extract.NormString(extract.Field(p, "serialNumber"))

	// A computer object is a leaf of its OU path once the generic
	// directory containers are stripped.
	path := extract.StripPrefixes(extract.Field(p, "ouPath"), ",", adPathPrefixes)
	h := extract.ParseHierarchy(path, ",", extract.KindLeaf)

	return []consolidate.SourceRecord{{
		Source:      "ad",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(serial),
		Fields: map[string]any{
			"serial_number": serial,
			"name":          extract.NormString(extract.Field(p, "name")),
			"os":            extract.NormString(extract.Field(p, "operatingSystem")),
			"os_version":    extract.NormString(extract.Field(p, "operatingSystemVersion")),
			"ou_department": extract.NormString(h.Department),
			"last_logon":    extract.ParseDate(extract.Field(p, "lastLogonTimestamp")),
		},
	}}, nil
}
