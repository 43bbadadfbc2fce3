package dto

type WebhookResponse struct {
	Event    string `json:"event"`
	Action   string `json:"action,omitempty"`
	Accepted bool   `json:"accepted"`
}
