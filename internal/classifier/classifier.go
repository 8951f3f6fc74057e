// file: internal/classifier/classifier.go
// version: 1.0.0
// guid: a7475da8-b471-4fa9-9401-dfcd2bfa39fd

// Package classifier assigns a category to a video and generates its
// default catalog title and description.
package classifier

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/jdfalk/video-autoprocessor/internal/config"
	"github.com/jdfalk/video-autoprocessor/internal/ids"
)

var firstNumber = regexp.MustCompile(`\d+`)

// Classifier matches filename keywords against configured categories.
type Classifier struct {
	categories map[string]config.Category
	order      []string
}

// New creates a Classifier. A general category is added when missing.
func New(categories map[string]config.Category) *Classifier {
	table := make(map[string]config.Category, len(categories)+1)
	for name, c := range categories {
		table[name] = c
	}
	if _, ok := table[config.CategoryGeneral]; !ok {
		table[config.CategoryGeneral] = config.Category{
			TitlePrefix: "Video",
			Description: config.DefaultAutoDescription,
		}
	}
	return &Classifier{categories: table, order: config.SortedCategoryNames(table)}
}

// Classify returns the first category whose keyword appears in the
// lower-cased file stem, or general.
func (c *Classifier) Classify(path string) string {
	stem := strings.ToLower(ids.Stem(path))
	for _, name := range c.order {
		for _, kw := range c.categories[name].Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(stem, kw) {
				return name
			}
		}
	}
	return config.CategoryGeneral
}

// Category returns the settings for name, falling back to general.
func (c *Classifier) Category(name string) config.Category {
	if cat, ok := c.categories[name]; ok {
		return cat
	}
	return c.categories[config.CategoryGeneral]
}

// Title builds the default title for path. Numbered categories produce
// "<prefix> - Video <n>"; others "<prefix> - <Clean Stem>".
func (c *Classifier) Title(path string) string {
	name := c.Classify(path)
	cat := c.Category(name)
	stem := ids.Stem(path)

	if cat.Numbered {
		n := firstNumber.FindString(stem)
		if n == "" {
			n = "1"
		}
		return fmt.Sprintf("%s - Video %s", cat.TitlePrefix, n)
	}
	return fmt.Sprintf("%s - %s", cat.TitlePrefix, CleanTitle(stem))
}

// Description returns the category template for path.
func (c *Classifier) Description(path string) string {
	desc := c.Category(c.Classify(path)).Description
	if desc == "" {
		return config.DefaultAutoDescription
	}
	return desc
}

// CleanTitle turns a file stem into words: separators become spaces and
// each word is capitalised.
func CleanTitle(stem string) string {
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	words := strings.Fields(stem)
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

func titleWord(w string) string {
	runes := []rune(strings.ToLower(w))
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			break
		}
		if !unicode.IsDigit(r) {
			break
		}
	}
	return string(runes)
}
