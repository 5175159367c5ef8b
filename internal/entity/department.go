package entity

import (
	"github.com/lsa-ts/orgsync/internal/consolidate"
	"github.com/lsa-ts/orgsync/internal/detect"
	"github.com/lsa-ts/orgsync/internal/extract"
	"github.com/lsa-ts/orgsync/internal/source"
)

// Department integrates organizational units from the ticketing system's
// account list and the HR department feed. The HR feed is authoritative
// for names and hierarchy; the ticketing system contributes its own
// account id so tickets and assets can be joined back.
func Department() *Declaration {
	return &Declaration{
		Name: "department",
		Sources: []SourceBinding{
			{
				Source:            "tdx",
				Mode:              detect.ModeTimestamp,
				SignificantFields: []string{"ID", "Name", "AccountCode", "IsActive"},
				Extract:           extractDepartmentTDX,
			},
			{
				Source:            "hr",
				Mode:              detect.ModeTimestamp,
				SignificantFields: []string{"DeptId", "DeptDescription", "DeptGroup", "OrgHierarchy"},
				Extract:           extractDepartmentHR,
			},
		},
		Merge: consolidate.Spec{
			EntityType:       "department",
			BusinessKeyField: "dept_id",
			Rules: []consolidate.FieldRule{
				{Field: "dept_id", Kind: consolidate.Priority, Sources: []string{"hr", "tdx"}},
				{Field: "name", Kind: consolidate.Priority, Sources: []string{"hr", "tdx"},
					Fallback: func(businessKey string) any { return businessKey }},
				{Field: "dept_group", Kind: consolidate.SourceExclusive, Sources: []string{"hr"}},
				{Field: "parent_dept", Kind: consolidate.SourceExclusive, Sources: []string{"hr"}},
				{Field: "college", Kind: consolidate.SourceExclusive, Sources: []string{"hr"}},
				{Field: "tdx_account_id", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
				{Field: "active", Kind: consolidate.SourceExclusive, Sources: []string{"tdx"}},
			},
			Quality: []consolidate.Deduction{
				consolidate.MissingField("name", 0.20),
				consolidate.MissingField("parent_dept", 0.10),
				consolidate.MissingSource("tdx", 0.05),
				consolidate.FieldMismatch("name", "hr", "tdx", 0.05),
			},
			SignificantFields: []string{
				"dept_id", "name", "dept_group", "parent_dept", "college",
				"tdx_account_id", "active",
			},
		},
	}
}

func extractDepartmentTDX(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	active, _ := p["IsActive"].(bool)
	deptID := extract.NormString(extract.Field(p, "AccountCode"))
	return []consolidate.SourceRecord{{
		Source:      "tdx",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(deptID),
		Fields: map[string]any{
			"dept_id":        deptID,
			"tdx_account_id": extract.IntField(p, "ID"),
			"name":           extract.NormString(extract.Field(p, "Name")),
			"active":         active,
		},
	}}, nil
}

func extractDepartmentHR(doc source.Document) ([]consolidate.SourceRecord, error) {
	p := doc.Payload
	deptID := extract.NormString(extract.Field(p, "DeptId"))

	// Department rows include their own name as the first hierarchy token.
	h := extract.ParseHierarchy(extract.Field(p, "OrgHierarchy"), ",", extract.KindContainer)

	return []consolidate.SourceRecord{{
		Source:      "hr",
		NaturalKey:  doc.ExternalID,
		BusinessKey: extract.StringValue(deptID),
		Fields: map[string]any{
			"dept_id":     deptID,
			"name":        extract.NormString(extract.Field(p, "DeptDescription")),
			"dept_group":  extract.NormString(extract.Field(p, "DeptGroup")),
			"parent_dept": extract.NormString(h.ImmediateParent),
			"college":     extract.NormString(h.College),
		},
	}}, nil
}
