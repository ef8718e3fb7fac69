package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
)

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
}

const cancellationHTML = `<h2>Booking cancelled</h2>
<p>Dear {{if .GuestName}}{{.GuestName}}{{else}}guest{{end}},</p>
<p>Your booking{{if .RoomNumber}} for room {{.RoomNumber}}{{end}} has been cancelled.</p>
<table>
  <tr><td>Refund amount</td><td>{{.RefundAmount}}</td></tr>
  {{- if gt .Penalty.Cents 0}}
  <tr><td>Cancellation penalty</td><td>{{.Penalty}}</td></tr>
  {{- end}}
  <tr><td>Refund reference</td><td>{{.TransactionID}}</td></tr>
  <tr><td>Processing time</td><td>{{.ProcessingTime}}</td></tr>
</table>
<p>Questions? Contact us at {{.SupportContact}}.</p>
`

// Templates renders the email for each notification type.
type Templates struct {
	cancellation *template.Template
}

// NewTemplates parses the built-in templates.
func NewTemplates() (*Templates, error) {
	cancellation, err := template.New("cancellation").Parse(cancellationHTML)
	if err != nil {
		return nil, err
	}
	return &Templates{cancellation: cancellation}, nil
}

// Render decodes data for typ and executes its template.
func (t *Templates) Render(typ Type, data []byte) (Message, error) {
	switch typ {
	case TypeBookingCancellation:
		var payload CancellationData
		if err := json.Unmarshal(data, &payload); err != nil {
			return Message{}, fmt.Errorf("decode %s data: %w", typ, err)
		}
		var buf bytes.Buffer
		if err := t.cancellation.Execute(&buf, payload); err != nil {
			return Message{}, err
		}
		return Message{Subject: "Your booking has been cancelled", HTML: buf.String()}, nil
	default:
		return Message{}, fmt.Errorf("no template for notification type %q", typ)
	}
}
