package notify

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/sirdesai22/mutualaid/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Template is the raw text for one (event, audience) pair.
type Template struct {
	Subject string `yaml:"subject"`
	SMS     string `yaml:"sms"`
	Email   string `yaml:"email"`
}

type compiled struct {
	subject *template.Template
	sms     *template.Template
	email   *template.Template
}

// Catalog holds the compiled templates keyed by event and audience.
type Catalog struct {
	events map[string]map[models.Audience]compiled
}

var audienceOrder = []models.Audience{
	models.AudienceRecipient, models.AudienceChef, models.AudienceDeliverer, models.AudienceVolunteer,
}

// LoadCatalog parses a YAML catalog and compiles every template in it.
func LoadCatalog(data []byte) (*Catalog, error) {
	var raw map[string]map[string]Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	c := &Catalog{events: map[string]map[models.Audience]compiled{}}
	for event, byAudience := range raw {
		c.events[event] = map[models.Audience]compiled{}
		for aud, t := range byAudience {
			a := models.Audience(aud)
			if !validAudience(a) {
				return nil, fmt.Errorf("template %s: unknown audience %q", event, aud)
			}
			name := event + "." + aud
			var ct compiled
			var err error
			if ct.subject, err = parse(name+".subject", t.Subject); err != nil {
				return nil, err
			}
			if ct.sms, err = parse(name+".sms", t.SMS); err != nil {
				return nil, err
			}
			if ct.email, err = parse(name+".email", t.Email); err != nil {
				return nil, err
			}
			c.events[event][a] = ct
		}
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog. It panics if the embedded
// file does not compile, which the package tests guard against.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultTemplates)
	if err != nil {
		panic(err)
	}
	return c
}

func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return t, nil
}

func validAudience(a models.Audience) bool {
	for _, o := range audienceOrder {
		if a == o {
			return true
		}
	}
	return false
}

// Has reports whether event has a template for aud.
func (c *Catalog) Has(event string, aud models.Audience) bool {
	_, ok := c.events[event][aud]
	return ok
}

// Audiences lists the audiences event has templates for, recipient first.
func (c *Catalog) Audiences(event string) []models.Audience {
	var out []models.Audience
	for _, a := range audienceOrder {
		if c.Has(event, a) {
			out = append(out, a)
		}
	}
	return out
}

// Render produces the subject and body for one message.
func (c *Catalog) Render(event string, aud models.Audience, ch models.Channel, data any) (string, string, error) {
	ct, ok := c.events[event][aud]
	if !ok {
		return "", "", fmt.Errorf("no template for %s/%s", event, aud)
	}
	subject, err := execute(ct.subject, data)
	if err != nil {
		return "", "", err
	}
	body := ct.email
	if ch == models.ChannelSMS {
		body = ct.sms
	}
	text, err := execute(body, data)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(subject), strings.TrimSpace(text), nil
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
