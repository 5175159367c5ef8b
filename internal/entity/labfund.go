package entity

import (
	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/detect"
	"github.com/lsa-ts/orgsync/internal/extract"
	"github.com/lsa-ts/orgsync/internal/source"
)

// LabFund integrates lab funding lines from the periodic finance
// spreadsheet export. The sheet carries no per-row modification times,
// so the entity runs in content-hash mode; re-loading an unchanged
// export captures nothing.
func LabFund() *Declaration {
	return &Declaration{
		Name: "labfund",
		Sources: []SourceBinding{
			{
				Source: "sheet",
				Mode:   detect.ModeContentHash,
				SignificantFields: []string{
					"Shortcode", "FundName", "PI", "DeptId", "Amount",
					"EndDate", "Active",
				},
				Extract: extractLabFundSheet,
			},
		},
		Merge: consolidate.Spec{
			EntityType:       "labfund",
			BusinessKeyField: "shortcode",
			Rules: []consolidate.FieldRule{
				{Field: "shortcode", Kind: consolidate.SourceExclusive, Sources: []string{"sheet"}},
				{Field: "fund_name", Kind: consolidate.SourceExclusive, Sources: []string{"sheet"},
					Fallback: func(businessKey string) any { return businessKey }},
				{Field: "pi_uniqname", Kind: consolidate.SourceExclusive, Sources: []string{"sheet"}},
				{Field: "dept_id", Kind: consolidate.SourceExclusive, Sources: []string{"sheet"}},
				{Field: "amount", Kind: consolidate.SourceExclusive, Sources: []string{"sheet"}},
				{Field: "end_date", Kind: consolidate.SourceExclusive, Sources: []string{"sheet"}},
				{Field: "active", Kind: consolidate.SourceExclusive, Sources: []string{"sheet"}},
			},
			Quality: []consolidate.Deduction{
				consolidate.MissingField("pi_uniqname", 0.15),
				consolidate.MissingField("dept_id", 0.10),
				consolidate.MissingField("amount", 0.10),
			},
			SignificantFields: []string{
				"shortcode", "fund_name", "pi_uniqname", "dept_id", "amount",
				"end_date", "active",
			},
		},
	}
}

func extractLabFundSheet(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	shortcode := extract.NormString(extract.Field(p, "Shortcode"))

	return []consolidate.SourceRecord{{
		Source:      "sheet",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(shortcode),
		Fields: map[string]any{
			"shortcode":   shortcode,
			"fund_name":   extract.NormString(extract.Field(p, "FundName")),
			"pi_uniqname": extract.NormLower(extract.Field(p, "PI")),
			"dept_id":     extract.NormString(extract.Field(p, "DeptId")),
			"amount":      extract.ParseDecimal(extract.Field(p, "Amount")),
			"end_date":    extract.ParseDate(extract.Field(p, "EndDate")),
			"active":      extract.ParseBoolYN(extract.Field(p, "Active")),
		},
	}}, nil
}
