// Package mapping derives timesheet client, project and activity metadata
// for tickets from their GLPI entity and title.
package mapping

import (
	"fmt"
	"os"
	"strings"

	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/validation"
	"gopkg.in/yaml.v3"
)

// suffixPlaceholder is replaced by the matched entity suffix in templates.
const suffixPlaceholder = "{suffix}"

// Rules is the mapping file.
type Rules struct {
	Defaults     Defaults      `yaml:"defaults"`
	EntityGroups []EntityGroup `yaml:"entity_groups" validate:"dive"`
	TitleRules   []TitleRule   `yaml:"title_rules" validate:"dive"`
}

// Defaults apply when no rule matches, and fill activity and tag otherwise.
type Defaults struct {
	Client   string `yaml:"client" validate:"required"`
	Project  string `yaml:"project" validate:"required"`
	Activity string `yaml:"activity" validate:"required"`
	Tag      string `yaml:"tag"`
}

// EntityGroup maps a family of GLPI entities (for example one customer with
// several country subsidiaries) onto per-suffix clients and projects.
type EntityGroup struct {
	Name string `yaml:"name" validate:"required"`
	// Keyword marks an entity full name as belonging to the group.
	Keyword         string `yaml:"keyword" validate:"required"`
	ClientTemplate  string `yaml:"client_template" validate:"required"`
	ProjectTemplate string `yaml:"project_template" validate:"required"`
	Activity        string `yaml:"activity"`
	// FallbackClient and FallbackProject apply to group entities with no
	// recognisable suffix.
	FallbackClient  string `yaml:"fallback_client"`
	FallbackProject string `yaml:"fallback_project"`
	// EntityIDs maps GLPI entity ids straight to a suffix.
	EntityIDs map[string]string `yaml:"entity_ids"`
	Suffixes  []SuffixRule      `yaml:"suffixes" validate:"dive"`
}

// SuffixRule assigns Suffix when the entity full name contains any of Match.
type SuffixRule struct {
	Suffix string   `yaml:"suffix" validate:"required"`
	Match  []string `yaml:"match" validate:"required,min=1"`
}

// TitleRule assigns a client and project when the ticket title contains Keyword.
type TitleRule struct {
	Keyword  string `yaml:"keyword" validate:"required"`
	Client   string `yaml:"client" validate:"required"`
	Project  string `yaml:"project" validate:"required"`
	Activity string `yaml:"activity"`
}

// Load reads and validates a YAML mapping file.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates mapping rules.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse mapping rules: %w", err)
	}
	if err := validation.Validate.Struct(&r); err != nil {
		return nil, fmt.Errorf("invalid mapping rules: %s", validation.FormatErrors(err))
	}
	return &r, nil
}

// Resolve returns the metadata the rules assign to a ticket. The first
// matching rule wins, checked in this order: entity id, entity full name,
// title keyword, defaults.
func (r *Rules) Resolve(title, entityID, entityFullname string) models.Metadata {
	meta := models.Metadata{
		models.MetaActivity: r.Defaults.Activity,
	}
	if r.Defaults.Tag != "" {
		meta[models.MetaTags] = []string{r.Defaults.Tag}
	}

	if entityID != "" {
		for _, g := range r.EntityGroups {
			if suffix, ok := g.EntityIDs[entityID]; ok {
				g.apply(meta, suffix)
				return meta
			}
		}
	}

	fullname := strings.ToUpper(entityFullname)
	for _, g := range r.EntityGroups {
		if !strings.Contains(fullname, strings.ToUpper(g.Keyword)) {
			continue
		}
		if suffix := g.matchSuffix(fullname); suffix != "" {
			g.apply(meta, suffix)
			return meta
		}
		meta[models.MetaClient] = firstNonEmpty(g.FallbackClient, r.Defaults.Client)
		meta[models.MetaProject] = firstNonEmpty(g.FallbackProject, r.Defaults.Project)
		return meta
	}

	lowerTitle := strings.ToLower(title)
	for _, tr := range r.TitleRules {
		if strings.Contains(lowerTitle, strings.ToLower(tr.Keyword)) {
			meta[models.MetaClient] = tr.Client
			meta[models.MetaProject] = tr.Project
			if tr.Activity != "" {
				meta[models.MetaActivity] = tr.Activity
			}
			return meta
		}
	}

	meta[models.MetaClient] = r.Defaults.Client
	meta[models.MetaProject] = r.Defaults.Project
	return meta
}

// Enrich fills missing client, project, activity and tags on an external
// item. Existing values are never overwritten and manual items are left as is.
func (r *Rules) Enrich(item *models.WorkItem) {
	if r == nil || item.IsManual() {
		return
	}
	if item.Metadata == nil {
		item.Metadata = models.Metadata{}
	}
	resolved := r.Resolve(
		item.Title,
		item.Metadata.GetString(models.MetaEntityID),
		item.Metadata.GetString(models.MetaEntityFullname),
	)
	for _, key := range []string{models.MetaClient, models.MetaProject, models.MetaActivity} {
		item.Metadata.SetDefault(key, resolved.GetString(key))
	}
	if !item.Metadata.Has(models.MetaTags) {
		for _, tag := range resolved.Tags() {
			item.Metadata.AddTag(tag)
		}
	}
}

func (g EntityGroup) matchSuffix(upperFullname string) string {
	for _, s := range g.Suffixes {
		for _, m := range s.Match {
			if strings.Contains(upperFullname, strings.ToUpper(m)) {
				return s.Suffix
			}
		}
	}
	return ""
}

func (g EntityGroup) apply(meta models.Metadata, suffix string) {
	meta[models.MetaClient] = strings.ReplaceAll(g.ClientTemplate, suffixPlaceholder, suffix)
	meta[models.MetaProject] = strings.ReplaceAll(g.ProjectTemplate, suffixPlaceholder, suffix)
	if g.Activity != "" {
		meta[models.MetaActivity] = g.Activity
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
