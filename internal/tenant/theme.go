package tenant

import "github.com/lalith-99/agenda/internal/models"

// Presentation is how a tenant's theme reaches the client: either a CSS
// class on the document body, or custom properties for custom themes.
type Presentation struct {
	TenantID   string            `json:"tenant_id"`
	Class      string            `json:"class,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// PresentationFor maps a tenant to its presentation. The default theme
// and a custom theme without colors yield neither class nor properties.
func PresentationFor(t *models.Tenant) Presentation {
	p := Presentation{TenantID: t.ID}
	switch t.Theme {
	case models.ThemeDefault:
	case models.ThemeCustom:
		if c := t.CustomColors; c != nil {
			p.Properties = map[string]string{
				"--tenant-primary":   c.Primary,
				"--tenant-secondary": c.Secondary,
				"--tenant-accent":    c.Accent,
			}
		}
	default:
		p.Class = "theme-" + string(t.Theme)
	}
	return p
}
