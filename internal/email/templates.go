package email

import (
	"fmt"
	"strings"
	"text/template"
)

// Template names. Each scheduled job type maps to exactly one of
// these.
const (
	TemplateVerification = "verification"
	TemplateReminder     = "deletion_reminder"
	TemplateDeleted      = "account_deleted"
	TemplateReset        = "password_reset"
)

var builtinTemplates = map[string]struct {
	subject string
	body    string
}{
	TemplateVerification: {
		subject: "Your email verification link (valid for {{.TokenTTL}})",
		body: `Hi {{.Name}},

Thanks for signing up! Please confirm your email by clicking the link below:

{{.VerificationURL}}

This link will expire in {{.TokenTTL}}.

If you didn't create this account, you can safely ignore this message.

The Loqui Team`,
	},
	TemplateReminder: {
		subject: "Account permanent deletion reminder ({{.Remaining}} remain)",
		body: `Hi {{.Name}},

We noticed your account is scheduled for deletion in {{.Remaining}}. If you
want to keep your account, simply log in before it is permanently removed.

The Loqui Team`,
	},
	TemplateDeleted: {
		subject: "Your account has been deleted",
		body: `Hi {{.Name}},

Your account and its data have been permanently removed, as scheduled.

The Loqui Team`,
	},
	TemplateReset: {
		subject: "Your password reset link (valid for {{.TokenTTL}})",
		body: `Forgot your password? Use the link below to choose a new one:

{{.ResetURL}}

If you didn't request a reset, please ignore this email.

The Loqui Team`,
	},
}

// Renderer renders named templates into ready-to-send messages.
type Renderer struct {
	templates map[string]compiled
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// NewRenderer compiles the built-in template set.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]compiled, len(builtinTemplates))}
	for name, t := range builtinTemplates {
		subj, err := template.New(name + ".subject").Parse(t.subject)
		if err != nil {
			return nil, fmt.Errorf("parse subject %s: %w", name, err)
		}
		body, err := template.New(name + ".body").Parse(t.body)
		if err != nil {
			return nil, fmt.Errorf("parse body %s: %w", name, err)
		}
		r.templates[name] = compiled{subject: subj, body: body}
	}
	return r, nil
}

// Render produces the message for a recipient from a named template.
func (r *Renderer) Render(name, to string, data any) (Message, error) {
	t, ok := r.templates[name]
	if !ok {
		return Message{}, fmt.Errorf("email: template not found: %s", name)
	}
	var subj, body strings.Builder
	if err := t.subject.Execute(&subj, data); err != nil {
		return Message{}, fmt.Errorf("render subject %s: %w", name, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render body %s: %w", name, err)
	}
	return Message{To: to, Subject: subj.String(), Body: body.String()}, nil
}
