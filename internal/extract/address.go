package extract

// PostalAddress is a structured address assembled from flat source fields.
type PostalAddress struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// BuildAddress assembles a PostalAddress from flat fields, normalizing each
// component. Returns nil when every component is empty, so records without
// an address carry null rather than an empty object.
func BuildAddress(line1, line2, city, state, postalCode, country string) *PostalAddress {
	addr := PostalAddress{
		Line1:      StringValue(NormString(line1)),
		Line2:      StringValue(NormString(line2)),
		City:       StringValue(NormString(city)),
		State:      StringValue(NormString(state)),
		PostalCode: StringValue(NormString(postalCode)),
		Country:    StringValue(NormString(country)),
	}
	if addr == (PostalAddress{}) {
		return nil
	}
	return &addr
}

// Map renders the address as a field map for hashing and merge input.
func (a *PostalAddress) Map() map[string]any {
	if a == nil {
		return nil
	}
	m := make(map[string]any, 6)
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put("line1", a.Line1)
	put("line2", a.Line2)
	put("city", a.City)
	put("state", a.State)
	put("postal_code", a.PostalCode)
	put("country", a.Country)
	return m
}
