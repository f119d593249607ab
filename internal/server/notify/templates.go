package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

type messageTemplate struct {
	subject string
	html    *htmltemplate.Template
	text    *template.Template
}

const footer = `
    <hr style="margin: 30px 0; border: none; border-top: 1px solid #eee;">
    <p style="color: #666; font-size: 12px;">This is an automated message from Eruptible PM.</p>`

var templates = map[Kind]messageTemplate{
	KindPasswordReset: {
		subject: "Password Reset Request - Eruptible PM",
		html: htmltemplate.Must(htmltemplate.New("reset").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
    <h2 style="color: #333;">Password Reset Request</h2>
    <p>Hello {{.Username}},</p>
    <p>We received a request to reset your password for your Eruptible PM account.</p>
    <p>Click the button below to reset your password:</p>
    <div style="text-align: center; margin: 30px 0;">
        <a href="{{.ResetLink}}" style="background-color: #007bff; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">Reset Password</a>
    </div>
    <p>If you didn't request this password reset, please ignore this email.</p>
    <p>This link will expire in 1 hour for security reasons.</p>
    <hr style="margin: 30px 0; border: none; border-top: 1px solid #eee;">
    <p style="color: #666; font-size: 12px;">If the button doesn't work, copy and paste this link into your browser:<br><a href="{{.ResetLink}}">{{.ResetLink}}</a></p>
</div>`)),
		text: template.Must(template.New("reset").Parse(`Password Reset Request - Eruptible PM

Hello {{.Username}},

We received a request to reset your password for your Eruptible PM account.

Click the link below to reset your password:
{{.ResetLink}}

If you didn't request this password reset, please ignore this email.
This link will expire in 1 hour for security reasons.
`)),
	},
	KindPasswordChanged: {
		subject: "Password Changed - Eruptible PM",
		html: htmltemplate.Must(htmltemplate.New("changed").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
    <h2 style="color: #333;">Password Changed Successfully</h2>
    <p>Hello {{.Username}},</p>
    <p>Your password for your Eruptible PM account has been successfully changed.</p>
    <p>If you did not make this change, please contact support immediately.</p>` + footer + `
</div>`)),
		text: template.Must(template.New("changed").Parse(`Password Changed - Eruptible PM

Hello {{.Username}},

Your password for your Eruptible PM account has been successfully changed.

If you did not make this change, please contact support immediately.
`)),
	},
	KindTwoFactorEnabled: {
		subject: "Two-Factor Authentication Enabled - Eruptible PM",
		html: htmltemplate.Must(htmltemplate.New("2fa-on").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
    <h2 style="color: #333;">Two-Factor Authentication Enabled</h2>
    <p>Hello {{.Username}},</p>
    <p>Two-factor authentication has been successfully enabled for your Eruptible PM account.</p>
    <p>Your account is now more secure. You will need to enter a 6-digit code from your authenticator app when logging in.</p>
    <p>If you did not enable this feature, please contact support immediately.</p>` + footer + `
</div>`)),
		text: template.Must(template.New("2fa-on").Parse(`Two-Factor Authentication Enabled - Eruptible PM

Hello {{.Username}},

Two-factor authentication has been successfully enabled for your Eruptible PM account.

Your account is now more secure. You will need to enter a 6-digit code from your authenticator app when logging in.

If you did not enable this feature, please contact support immediately.
`)),
	},
	KindTwoFactorDisabled: {
		subject: "Two-Factor Authentication Disabled - Eruptible PM",
		html: htmltemplate.Must(htmltemplate.New("2fa-off").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
    <h2 style="color: #333;">Two-Factor Authentication Disabled</h2>
    <p>Hello {{.Username}},</p>
    <p>Two-factor authentication has been disabled for your Eruptible PM account.</p>
    <p>Your account is now less secure. Consider re-enabling 2FA for better protection.</p>
    <p>If you did not disable this feature, please contact support immediately.</p>` + footer + `
</div>`)),
		text: template.Must(template.New("2fa-off").Parse(`Two-Factor Authentication Disabled - Eruptible PM

Hello {{.Username}},

Two-factor authentication has been disabled for your Eruptible PM account.

Your account is now less secure. Consider re-enabling 2FA for better protection.

If you did not disable this feature, please contact support immediately.
`)),
	},
}

// Render fills the templates of kind with data.
func Render(kind Kind, data Data) (*Message, error) {
	t, ok := templates[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var html, text bytes.Buffer
	if err := t.html.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render %s html: %w", kind, err)
	}
	if err := t.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render %s text: %w", kind, err)
	}

	return &Message{Subject: t.subject, HTML: html.String(), Text: text.String()}, nil
}
