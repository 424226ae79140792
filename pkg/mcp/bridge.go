package mcp

import "context"

// LawsListURI is the bridge resource listing the machine-readable laws.
const LawsListURI = "laws://list"

// EligibilityTool is the bridge tool that evaluates a citizen's
// eligibility for a service under a given law.
const EligibilityTool = "check_eligibility"

// Bridge is the surface the turn pipeline needs from the rule execution
// bridge. *Client implements it; tests substitute a fake.
type Bridge interface {
	ReadResource(ctx context.Context, uri string) (string, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (string, error)
}

// ListLaws returns the bridge's law list as text.
func ListLaws(ctx context.Context, b Bridge) (string, error) {
	return b.ReadResource(ctx, LawsListURI)
}

// CheckEligibility runs an eligibility check for a service/law pair.
// Parameters carry citizen inputs such as the BSN.
func CheckEligibility(ctx context.Context, b Bridge, service, law string, parameters map[string]any) (string, error) {
	return b.CallTool(ctx, EligibilityTool, map[string]any{
		"service":    service,
		"law":        law,
		"parameters": parameters,
	})
}
