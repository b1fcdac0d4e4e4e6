package core

// Operator is the acting identity attributed to every mutation of a run.
type Operator struct {
	UserID           string `json:"user_id" yaml:"user_id"`
	OrganizationCode string `json:"organization_code" yaml:"organization_code"`
	Nickname         string `json:"nickname" yaml:"nickname"`
	RealName         string `json:"real_name,omitempty" yaml:"real_name"`
	SourceID         string `json:"source_id,omitempty" yaml:"source_id"`
}

// DataIsolation scopes every collaborator lookup to one organization and user.
type DataIsolation struct {
	OrganizationCode string `json:"organization_code"`
	UserID           string `json:"user_id"`
	EnvironmentID    string `json:"environment_id,omitempty"`
}

// NewDataIsolation derives the isolation scope of an operator.
func NewDataIsolation(op Operator) DataIsolation {
	return DataIsolation{OrganizationCode: op.OrganizationCode, UserID: op.UserID}
}

// SenderEntity identifies who a reply is sent on behalf of.
type SenderEntity struct {
	UserID           string `json:"user_id"`
	Nickname         string `json:"nickname"`
	OrganizationCode string `json:"organization_code"`
}
