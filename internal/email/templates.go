package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var subscriptionNoticeTemplate = template.Must(template.New("subscription_notice").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Subject}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">{{.Heading}}</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
{{.Body}}
</p>
{{if .ExpiresAt}}<p style="margin: 0; color: #999; font-size: 13px;">
Your access is valid through {{.ExpiresAt}}.
</p>{{end}}
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

type noticeData struct {
	Subject   string
	Heading   string
	Body      string
	ExpiresAt string
}

// Notice describes a rendered subscription lifecycle notification.
type Notice struct {
	Subject string
	HTML    string
	Text    string
}

func renderNotice(d noticeData) (Notice, error) {
	var buf bytes.Buffer
	if err := subscriptionNoticeTemplate.Execute(&buf, d); err != nil {
		return Notice{}, fmt.Errorf("render subscription notice: %w", err)
	}
	text := d.Heading + "\n\n" + d.Body
	if d.ExpiresAt != "" {
		text += "\n\nYour access is valid through " + d.ExpiresAt + "."
	}
	return Notice{Subject: d.Subject, HTML: buf.String(), Text: text}, nil
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2 January 2006")
}

// SubscriptionActivated renders the welcome notice for a newly active
// subscription.
func SubscriptionActivated(planName string, expiresAt time.Time) (Notice, error) {
	body := "Your membership subscription is now active."
	if planName != "" {
		body = fmt.Sprintf("Your %s subscription is now active.", planName)
	}
	return renderNotice(noticeData{
		Subject:   "Subscription confirmed",
		Heading:   "Welcome aboard",
		Body:      body,
		ExpiresAt: formatExpiry(expiresAt),
	})
}

// SubscriptionRenewed renders the renewal confirmation notice.
func SubscriptionRenewed(cycle int, expiresAt time.Time) (Notice, error) {
	return renderNotice(noticeData{
		Subject:   "Subscription renewed",
		Heading:   "Payment received",
		Body:      fmt.Sprintf("Your subscription renewal (cycle %d) was processed successfully.", cycle),
		ExpiresAt: formatExpiry(expiresAt),
	})
}

// PaymentFailed renders the past-due warning notice.
func PaymentFailed(expiresAt time.Time) (Notice, error) {
	return renderNotice(noticeData{
		Subject:   "Payment problem with your subscription",
		Heading:   "We couldn't process your payment",
		Body:      "Your latest subscription charge failed. Please update your payment method to keep your membership active.",
		ExpiresAt: formatExpiry(expiresAt),
	})
}

// SubscriptionCanceled renders the cancellation notice.
func SubscriptionCanceled(expiresAt time.Time) (Notice, error) {
	return renderNotice(noticeData{
		Subject:   "Subscription canceled",
		Heading:   "Sorry to see you go",
		Body:      "Your subscription has been canceled. You keep access until the current period ends.",
		ExpiresAt: formatExpiry(expiresAt),
	})
}
