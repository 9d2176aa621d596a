package api

type InboundMessageRequest struct {
	From        string `json:"from"`
	ProfileName string `json:"profile_name"`
	Type        string `json:"type"`
	Text        string `json:"text"`
	MessageID   string `json:"message_id"`
}

type InboundMessageResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
