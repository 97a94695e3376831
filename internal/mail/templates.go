package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

const (
	SubjectVerification  = "Verify your email address"
	SubjectPasswordReset = "Reset your password"
)

var (
	verificationTmpl = template.Must(template.New("verification").Parse(
		`<p>Hi {{.Name}},</p>
<p>Thanks for signing up. Please confirm your email address by clicking the link below.</p>
<p><a href="{{.Link}}">Verify email address</a></p>
<p>The link expires in {{.Expiry}}.</p>`))

	resetTmpl = template.Must(template.New("reset").Parse(
		`<p>Hi {{.Name}},</p>
<p>We received a request to reset your password. Use the link below to choose a new one.</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>The link expires in {{.Expiry}}. If you did not ask for this, ignore this email.</p>`))
)

// LinkData fills the account email templates
type LinkData struct {
	Name   string
	Link   string
	Expiry string
}

func VerificationMessage(to string, data LinkData) (Message, error) {
	return render(verificationTmpl, to, SubjectVerification, data)
}

func PasswordResetMessage(to string, data LinkData) (Message, error) {
	return render(resetTmpl, to, SubjectPasswordReset, data)
}

func render(tmpl *template.Template, to, subject string, data LinkData) (Message, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return Message{To: to, Subject: subject, Body: buf.String()}, nil
}
