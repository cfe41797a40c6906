package notifications

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digistore1/digistore-backend/pkg/outbox/payloads"
)

var funcs = map[string]any{
	"money": formatMoney,
	"date":  func(t time.Time) string { return t.UTC().Format("January 2, 2006") },
}

const fulfillmentText = `Thanks for your order {{.OrderNumber}}.

{{range .Items}}- {{.Title}} ({{.LicenseTier}}) x{{.Quantity}}{{if .DownloadToken}}
  Download: {{$.DownloadBase}}/{{.DownloadToken}}{{end}}
{{end}}
Total paid: {{money .TotalCents .Currency}}
`

const fulfillmentHTML = `<p>Thanks for your order <strong>{{.OrderNumber}}</strong>.</p>
<ul>{{range .Items}}
<li>{{.Title}} ({{.LicenseTier}}) &times; {{.Quantity}}{{if .DownloadToken}} &middot; <a href="{{$.DownloadBase}}/{{.DownloadToken}}">Download</a>{{end}}</li>{{end}}
</ul>
<p>Total paid: {{money .TotalCents .Currency}}</p>
`

const giftCardText = `{{if .RecipientName}}Hi {{.RecipientName}},

{{end}}You received a {{money .AmountCents .Currency}} gift card.
Code: {{.Code}}
Valid until {{date .ExpiresAt}}.
{{if .Message}}
"{{.Message}}"
{{end}}`

const giftCardHTML = `{{if .RecipientName}}<p>Hi {{.RecipientName}},</p>{{end}}
<p>You received a <strong>{{money .AmountCents .Currency}}</strong> gift card.</p>
<p>Code: <code>{{.Code}}</code><br>Valid until {{date .ExpiresAt}}.</p>
{{if .Message}}<blockquote>{{.Message}}</blockquote>{{end}}
`

var (
	fulfillmentTextTmpl = texttemplate.Must(texttemplate.New("fulfillment.txt").Funcs(funcs).Parse(fulfillmentText))
	fulfillmentHTMLTmpl = htmltemplate.Must(htmltemplate.New("fulfillment.html").Funcs(funcs).Parse(fulfillmentHTML))
	giftCardTextTmpl    = texttemplate.Must(texttemplate.New("giftcard.txt").Funcs(funcs).Parse(giftCardText))
	giftCardHTMLTmpl    = htmltemplate.Must(htmltemplate.New("giftcard.html").Funcs(funcs).Parse(giftCardHTML))
)

type fulfillmentView struct {
	payloads.NotificationRequestedEvent
	DownloadBase string
}

func renderFulfillment(event payloads.NotificationRequestedEvent, downloadBase string) (Message, error) {
	view := fulfillmentView{NotificationRequestedEvent: event, DownloadBase: strings.TrimRight(downloadBase, "/")}
	text, html, err := render(fulfillmentTextTmpl, fulfillmentHTMLTmpl, view)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      event.Recipient,
		Subject: fmt.Sprintf("Your order %s", event.OrderNumber),
		Text:    text,
		HTML:    html,
	}, nil
}

func renderGiftCard(event payloads.GiftCardActivatedEvent) (Message, error) {
	text, html, err := render(giftCardTextTmpl, giftCardHTMLTmpl, event)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      event.RecipientEmail,
		Subject: "You received a gift card",
		Text:    text,
		HTML:    html,
	}, nil
}

func render(text *texttemplate.Template, html *htmltemplate.Template, data any) (string, string, error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := text.Execute(&textBuf, data); err != nil {
		return "", "", err
	}
	if err := html.Execute(&htmlBuf, data); err != nil {
		return "", "", err
	}
	return textBuf.String(), htmlBuf.String(), nil
}

func formatMoney(cents int64, currency string) string {
	amount := decimal.New(cents, -2).StringFixed(2)
	if strings.EqualFold(currency, "USD") {
		return "$" + amount
	}
	return amount + " " + strings.ToUpper(currency)
}
