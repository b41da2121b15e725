package mail

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/iliyamo/community-auth/internal/model"
)

// VerificationMessage renders the subject and HTML body of a code mail.
func VerificationMessage(purpose model.CodePurpose, code string, ttl time.Duration) (subject, body string) {
	var title string
	switch purpose {
	case model.PurposePasswordReset:
		subject = "Your password reset code"
		title = "Password reset code"
	case model.PurposeWithdrawRestore:
		subject = "Your account restore code"
		title = "Account restore code"
	case model.PurposeAccountChange:
		subject = "Confirm your new email address"
		title = "Email change code"
	default:
		subject = "Your email verification code"
		title = "Email verification code"
	}

	minutes := int(ttl.Round(time.Minute) / time.Minute)
	var b strings.Builder
	b.WriteString(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">`)
	fmt.Fprintf(&b, `<h2 style="color: #333;">%s</h2>`, html.EscapeString(title))
	b.WriteString(`<div style="background-color: #f5f5f5; padding: 20px; border-radius: 8px; margin: 20px 0;">`)
	fmt.Fprintf(&b, `<p style="margin: 0; font-size: 32px; font-weight: bold; letter-spacing: 8px;">%s</p>`, html.EscapeString(code))
	b.WriteString(`</div>`)
	fmt.Fprintf(&b, `<p>The code is valid for %d minutes.</p>`, minutes)
	b.WriteString(`<p style="color: #999; font-size: 12px; margin-top: 30px;">This mailbox is not monitored.</p>`)
	b.WriteString(`</div>`)
	return subject, b.String()
}
