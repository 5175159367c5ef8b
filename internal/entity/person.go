package entity

import (
	"fmt"

	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/detect"
	"github.com/lsa-ts/orgsync/internal/extract"
	"github.com/lsa-ts/orgsync/internal/source"
)

// Person integrates people from three systems. The HR feed carries zero
// or more employment rows per person (sequence-numbered appointments);
// the campus directory carries the public profile and group memberships;
// the ticketing system carries its own user id for joins.
//
// The directory wins display name (people curate it there); HR wins
// everything appointment-shaped.
func Person() *Declaration {
	return &Declaration{
		Name: "person",
		Sources: []SourceBinding{
			{
				Source: "hr",
				Mode:   detect.ModeTimestamp,
				SignificantFields: []string{
					"Uniqname", "DisplayName", "EmploymentRecords",
				},
				Extract: extractPersonHR,
			},
			{
				Source: "mcomm",
				Mode:   detect.ModeTimestamp,
				SignificantFields: []string{
					"uid", "displayName", "mail", "title", "groups",
					"postalAddress", "city", "state", "postalCode",
				},
				Extract: extractPersonMComm,
			},
			{
				Source:            "tdx",
				Mode:              detect.ModeTimestamp,
				SignificantFields: []string{"UID", "UserName", "IsActive"},
				Extract:           extractPersonTDX,
			},
		},
		Merge: consolidate.Spec{
			EntityType:       "person",
			BusinessKeyField: "uniqname",
			Rules: []consolidate.FieldRule{
				{Field: "uniqname", Kind: consolidate.Priority, Sources: []string{"hr", "mcomm", "tdx"}},
				{Field: "display_name", Kind: consolidate.Priority, Sources: []string{"mcomm", "hr"},
					Fallback: func(businessKey string) any { return businessKey }},
				{Field: "email", Kind: consolidate.SourceExclusive, Sources: []string{"mcomm"}},
				{Field: "title", Kind: consolidate.Priority, Sources: []string{"mcomm", "hr"}, From: "job_title"},
				{Field: "department", Kind: consolidate.SourceExclusive, Sources: []string{"hr"}},
				{Field: "dept_id", Kind: consolidate.SourceExclusive, Sources: []string{"hr"}},
				{Field: "college", Kind: consolidate.SourceExclusive, Sources: []string{"hr"}},
				{Field: "job_titles", Kind: consolidate.AggregateByRecord, Sources: []string{"hr"}, From: "job_title"},
				{Field: "appt_fractions", Kind: consolidate.AggregateByRecord, Sources: []string{"hr"}, From: "appt_fraction"},
				{Field: "appt_departments", Kind: consolidate.AggregateByRecord, Sources: []string{"hr"}, From: "department"},
				{Field: "groups", Kind: consolidate.Union, Sources: []string{"mcomm"}},
				{Field: "address", Kind: consolidate.SourceExclusive, Sources: []string{"mcomm"}},
				{Field: "tdx_user_id", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "active", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
			},
			Quality: []consolidate.Deduction{
				consolidate.MissingField("display_name", 0.20),
				consolidate.MissingField("email", 0.10),
				consolidate.MissingField("department", 0.10),
				consolidate.MissingSource("mcomm", 0.05),
				consolidate.MissingSource("hr", 0.05),
				consolidate.FieldMismatch("display_name", "hr", "mcomm", 0.05),
			},
			SignificantFields: []string{
				"uniqname", "display_name", "email", "title", "department",
				"dept_id", "college", "job_titles", "appt_fractions",
				"appt_departments", "groups", "address", "tdx_user_id", "active",
			},
		},
	}
}

// extractPersonHR fans one HR document out into one record per employment
// row. Seq preserves the feed's appointment ordering so aggregated arrays
// stay index-aligned across fields.
func extractPersonHR(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	uniqname := extract.NormLower(extract.Field(p, "Uniqname"))
	displayName := extract.NormString(extract.Field(p, "DisplayName"))

	rows, _ := p["EmploymentRecords"].([]any)
	if len(rows) == 0 {
		// A person with no appointments still exists in the feed.
		return []consolidate.SourceRecord{{
			Source:      "hr",
			NaturalKey:  doc.ExternalID,
			BusinessKey: extract.StringValue(uniqname),
			Fields: map[string]any{
				"uniqname":     uniqname,
				"display_name": displayName,
			},
		}}, nil
	}

	recs := make([]consolidate.SourceRecord, 0, len(rows))
	for i, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		// People are leaves of their department path.
		h := extract.ParseHierarchy(extract.Field(row, "DeptPath"), ",", extract.KindLeaf)

		recs = append(recs, consolidate.SourceRecord{
			Source:      "hr",
			NaturalKey:  fmt.Sprintf("%s-%d", doc.ExternalID, i),
			BusinessKey: extract.StringValue(uniqname),
			Seq:         i,
			Fields: map[string]any{
				"uniqname":      uniqname,
				"display_name":  displayName,
				"job_title":     extract.NormString(extract.Field(row, "JobTitle")),
				"appt_fraction": extract.ParseDecimal(extract.Field(row, "ApptFraction")),
				"department":    extract.NormString(h.Department),
				"dept_id":       extract.NormString(extract.Field(row, "DeptId")),
				"college":       extract.NormString(h.College),
			},
		})
	}
	return recs, nil
}

func extractPersonMComm(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	uniqname := extract.NormLower(extract.Field(p, "uid"))

	addr := extract.BuildAddress(
		extract.Field(p, "postalAddress"),
		"",
		extract.Field(p, "city"),
		extract.Field(p, "state"),
		extract.Field(p, "postalCode"),
		"",
	)
	var addrMap map[string]any
	if addr != nil {
		addrMap = addr.Map()
	}

	return []consolidate.SourceRecord{{
		Source:      "mcomm",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(uniqname),
		Fields: map[string]any{
			"uniqname":     uniqname,
			"display_name": extract.NormString(extract.Field(p, "displayName")),
			"email":        extract.NormLower(extract.Field(p, "mail")),
			"job_title":    extract.NormString(extract.Field(p, "title")),
			"groups":       extract.StringList(p, "groups"),
			"address":      addrMap,
		},
	}}, nil
}

func extractPersonTDX(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	uniqname := extract.NormLower(extract.Field(p, "UserName"))
	active, _ := p["IsActive"].(bool)

	return []consolidate.SourceRecord{{
		Source:      "tdx",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(uniqname),
		Fields: map[string]any{
			"uniqname":    uniqname,
			"tdx_user_id": extract.NormString(extract.Field(p, "UID")),
			"active":      active,
		},
	}}, nil
}
