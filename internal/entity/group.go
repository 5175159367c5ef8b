package entity

import (
	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/detect"
	"github.com/lsa-ts/orgsync/internal/extract"
	"github.com/lsa-ts/orgsync/internal/source"
)

// Group integrates mailing/authorization groups from the campus
// directory and the AD export. Neither source exposes a modification
// timestamp for groups, so both run in content-hash mode: the full list
// is fetched every run and only membership or metadata changes are
// captured.
func Group() *Declaration {
	return &Declaration{
		Name: "group",
		Sources: []SourceBinding{
			{
				Source: "mcomm",
				Mode:   detect.ModeContentHash,
				SignificantFields: []string{
					"cn", "description", "members", "owners",
				},
				Extract: extractGroupMComm,
			},
			{
				Source: "ad",
				Mode:   detect.ModeContentHash,
				SignificantFields: []string{
					"name", "description", "members", "managedBy",
				},
				Extract: extractGroupAD,
			},
		},
		Merge: consolidate.Spec{
			EntityType:       "group",
			BusinessKeyField: "group_name",
			Rules: []consolidate.FieldRule{
				{Field: "group_name", Kind: consolidate.Priority, Sources: []string{"mcomm", "ad"}},
				{Field: "description", Kind: consolidate.Priority, Sources: []string{"mcomm", "ad"}},
				{Field: "members", Kind: consolidate.Union, Sources: []string{"mcomm", "ad"}},
				{Field: "owners", Kind: consolidate.Union, Sources: []string{"mcomm", "ad"}},
			},
			Quality: []consolidate.Deduction{
				consolidate.MissingField("description", 0.05),
				consolidate.MissingField("owners", 0.10),
				consolidate.MissingField("members", 0.20),
			},
			SignificantFields: []string{
				"group_name", "description", "members", "owners",
			},
		},
	}
}

func extractGroupMComm(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	name := extract.NormLower(extract.Field(p, "cn"))

	return []consolidate.SourceRecord{{
		Source:      "mcomm",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(name),
		Fields: map[string]any{
			"group_name":  name,
			"description": extract.NormString(extract.Field(p, "description")),
			"members":     extract.StringList(p, "members"),
			"owners":      extract.StringList(p, "owners"),
		},
	}}, nil
}

func extractGroupAD(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	name := extract.NormLower(extract.Field(p, "name"))

	var owners []string
	if managed := extract.StringValue(extract.NormLower(extract.Field(p, "managedBy"))); managed != "" {
		owners = []string{managed}
	}

	return []consolidate.SourceRecord{{
		Source:      "ad",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(name),
		Fields: map[string]any{
			"group_name":  name,
			"description": extract.NormString(extract.Field(p, "description")),
			"members":     extract.StringList(p, "members"),
			"owners":      owners,
		},
	}}, nil
}
