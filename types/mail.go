package types

// Mail is an outbound plain-text message handed to the mail collaborator.
type Mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
