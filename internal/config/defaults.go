// file: internal/config/defaults.go
// version: 1.0.0
// guid: 1133cf96-dded-408a-ad92-07564d97d123

package config

import "sort"

// Category names known to the classifier. Viper lower-cases map keys, so
// names are kept in snake case.
const (
	CategoryLecture  = "lecture"
	CategoryTutorial = "tutorial"
	CategoryOneOnOne = "one_on_one"
	CategoryGeneral  = "general"
)

// DefaultAutoTitlePatterns mark a catalog title as machine-generated.
var DefaultAutoTitlePatterns = []string{"- ", "lecture-video", "one-on-one", "视频"}

// DefaultAutoDescription is written when no category template applies.
const DefaultAutoDescription = "Automatically generated video content."

// DefaultLegacyNames maps historical file stems to their published ids.
var DefaultLegacyNames = map[string]string{
	"讲课视频1": "lecture-video-1",
	"讲课视频2": "lecture-video-2",
	"一对一1":  "one-on-one-1",
	"一对一2":  "one-on-one-2",
}

// DefaultCategories is the stock classifier table. It is expressed as plain
// maps so viper can merge it with file overrides.
var DefaultCategories = map[string]any{
	CategoryLecture: map[string]any{
		"keywords":     []string{"lecture", "讲课", "授课", "教学", "课程"},
		"title_prefix": "Lecture",
		"description":  "Structured classroom teaching that covers the theory and methods of lesson preparation in depth.",
		"numbered":     true,
	},
	CategoryTutorial: map[string]any{
		"keywords":     []string{"tutorial", "教程", "指导", "演示"},
		"title_prefix": "Tutorial",
		"description":  "Step-by-step guidance to help you pick up the skills quickly.",
		"numbered":     false,
	},
	CategoryOneOnOne: map[string]any{
		"keywords":     []string{"one-on-one", "一对一", "个人", "私教"},
		"title_prefix": "One-on-One",
		"description":  "Personal one-on-one coaching session.",
		"numbered":     true,
	},
	CategoryGeneral: map[string]any{
		"keywords":     []string{},
		"title_prefix": "Video",
		"description":  "An interesting video worth watching.",
		"numbered":     false,
	},
}

// AutoDescriptionPatterns returns the description fragments that mark a
// catalog description as machine-generated: the configured patterns plus
// every category template and the stock default.
func (c *Config) AutoDescriptionPatterns() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, p := range c.Catalog.AutoDescriptionPatterns {
		add(p)
	}
	for _, name := range SortedCategoryNames(c.Categories) {
		add(c.Categories[name].Description)
	}
	add(DefaultAutoDescription)
	return out
}

// SortedCategoryNames returns category names in match order: the stock
// categories first, then any custom ones alphabetically. General is last.
func SortedCategoryNames(categories map[string]Category) []string {
	order := []string{CategoryLecture, CategoryTutorial, CategoryOneOnOne}
	out := make([]string, 0, len(categories))
	for _, name := range order {
		if _, ok := categories[name]; ok {
			out = append(out, name)
		}
	}
	var custom []string
	for name := range categories {
		switch name {
		case CategoryLecture, CategoryTutorial, CategoryOneOnOne, CategoryGeneral:
			continue
		}
		custom = append(custom, name)
	}
	sort.Strings(custom)
	out = append(out, custom...)
	if _, ok := categories[CategoryGeneral]; ok {
		out = append(out, CategoryGeneral)
	}
	return out
}
