package domain

// HandoffType identifies the live-agent platform a conversation escalates to.
type HandoffType string

const (
	HandoffZendesk             HandoffType = "zendesk"
	HandoffFront               HandoffType = "front"
	HandoffSalesforce          HandoffType = "salesforce"
	HandoffSalesforceMessaging HandoffType = "salesforce-messaging"
)

// HandoffTypes lists every supported platform.
var HandoffTypes = []HandoffType{
	HandoffZendesk,
	HandoffFront,
	HandoffSalesforce,
	HandoffSalesforceMessaging,
}

// Valid reports whether t names a supported platform.
func (t HandoffType) Valid() bool {
	for _, known := range HandoffTypes {
		if t == known {
			return true
		}
	}
	return false
}
