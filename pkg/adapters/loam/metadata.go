package loam

// TemplateMetadata is the part of a template's frontmatter the loader needs
// to list templates. The full frontmatter is read untyped and migrated.
type TemplateMetadata struct {
	ID   string `json:"id" mapstructure:"id"`
	Name string `json:"name" mapstructure:"name"`
	Slug string `json:"slug" mapstructure:"slug"`
}
