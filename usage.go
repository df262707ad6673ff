package hive

// CredentialUsageSpec declares how a tool uses a credential: which keys it
// requires, and where each is placed in outbound headers, query parameters,
// or body fields, by way of {{cred.key}} templates. A usage spec never
// holds secret values, only references to them — the other half of the
// bipartisan contract.
type CredentialUsageSpec struct {
	CredentialID  string
	RequiredKeys  []string
	Headers       map[string]string
	QueryParams   map[string]string
	BodyFields    map[string]string
	Required      bool
	Description   string
	HelpURL       string
}

// NewCredentialUsageSpec returns an empty usage spec targeting credentialID.
func NewCredentialUsageSpec(credentialID string) *CredentialUsageSpec {
	return &CredentialUsageSpec{
		CredentialID: credentialID,
		Headers:      map[string]string{},
		QueryParams:  map[string]string{},
		BodyFields:   map[string]string{},
	}
}

// MissingKeys returns the subset of RequiredKeys not present on c. A usage
// spec validates iff this returns empty.
func (s *CredentialUsageSpec) MissingKeys(c *CredentialObject) []string {
	var missing []string
	for _, name := range s.RequiredKeys {
		if !c.HasKey(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
