// Templates live in internal/web/templates/ and are embedded at build time.
// Set TemplateDir to override them at runtime (e.g. for development).

package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/eslider/inboxwatch/internal/dashboard"
)

//go:embed templates
var templatesFS embed.FS

var (
	templatesMu   sync.RWMutex
	loginTmpl     *template.Template
	dashboardTmpl *template.Template
)

var templateFuncs = template.FuncMap{
	"percent": func(v float64) string { return fmt.Sprintf("%.2f", v) },
}

func init() {
	loadEmbeddedTemplates()
}

func loadEmbeddedTemplates() {
	loginData, _ := templatesFS.ReadFile("templates/auth/login.tmpl")
	dashboardData, _ := templatesFS.ReadFile("templates/dashboard.tmpl")

	loginTmpl = template.Must(template.New("login").Parse(string(loginData)))
	dashboardTmpl = template.Must(template.New("dashboard").Funcs(templateFuncs).Parse(string(dashboardData)))
}

// dashboardPage is the data passed to dashboard.tmpl.
type dashboardPage struct {
	dashboard.View
	Username string
}

// renderLogin executes the login template with the given error (empty string for no error).
func renderLogin(w io.Writer, errMsg string) error {
	templatesMu.RLock()
	t := loginTmpl
	templatesMu.RUnlock()
	return t.Execute(w, struct{ Error string }{Error: errMsg})
}

func renderDashboard(w io.Writer, page dashboardPage) error {
	templatesMu.RLock()
	t := dashboardTmpl
	templatesMu.RUnlock()
	return t.Execute(w, page)
}

// ReloadTemplates loads templates from TemplateDir if set, otherwise keeps embedded.
// Call after changing TemplateDir (e.g. in tests or dev mode).
func ReloadTemplates() {
	templatesMu.Lock()
	defer templatesMu.Unlock()

	if TemplateDir == "" {
		loadEmbeddedTemplates()
		return
	}

	loginPath := filepath.Join(TemplateDir, "auth", "login.tmpl")
	dashboardPath := filepath.Join(TemplateDir, "dashboard.tmpl")

	if d, err := os.ReadFile(loginPath); err == nil {
		if t, err := template.New("login").Parse(string(d)); err == nil {
			loginTmpl = t
		}
	}
	if d, err := os.ReadFile(dashboardPath); err == nil {
		if t, err := template.New("dashboard").Funcs(templateFuncs).Parse(string(d)); err == nil {
			dashboardTmpl = t
		}
	}
}
