// Package lang provides the localized short strings shown to the user.
//
// Catalogs are plain "key = value" files, one entry per line. Lines
// starting with '#' and lines without '=' are ignored. English and German
// catalogs are built in; a directory of *.lang files can override them.
package lang

import (
	"bufio"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
)

//go:embed catalogs/*.lang
var builtin embed.FS

// Supported lists the built-in locales. The first one is the fallback.
var Supported = []language.Tag{language.English, language.German}

var matcher = language.NewMatcher(Supported)

// Catalog maps keys to localized strings.
type Catalog struct {
	tag      language.Tag
	entries  map[string]string
	fallback map[string]string
}

// New creates a catalog from entries, falling back to fallback for
// missing keys.
func New(tag language.Tag, entries, fallback map[string]string) *Catalog {
	return &Catalog{tag: tag, entries: entries, fallback: fallback}
}

// Load builds the catalog best matching requested, such as "de" or
// "de_DE.UTF-8". An empty request is resolved from the environment. If dir
// is not empty, <base>.lang files in it override the built-in entries.
func Load(requested, dir string) (*Catalog, error) {
	if requested == "" {
		requested = DetectLocale(os.Getenv)
	}
	tag := Match(requested)

	fallback, err := loadBuiltin(Supported[0])
	if err != nil {
		return nil, err
	}

	entries := fallback
	if tag != Supported[0] {
		if entries, err = loadBuiltin(tag); err != nil {
			return nil, err
		}
	}

	if dir != "" {
		override, err := loadFile(filepath.Join(dir, fileName(tag)))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			entries = merge(entries, override)
		}
	}

	return New(tag, entries, fallback), nil
}

// Match returns the supported locale closest to locale. Unparsable input
// yields the fallback.
func Match(locale string) language.Tag {
	locale = normalize(locale)
	if locale == "" {
		return Supported[0]
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return Supported[0]
	}
	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		return Supported[0]
	}
	return Supported[index]
}

// DetectLocale returns the first locale set in LC_ALL, LC_MESSAGES or
// LANG.
func DetectLocale(getenv func(string) string) string {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := getenv(name); v != "" && v != "C" && v != "POSIX" {
			return v
		}
	}
	return ""
}

// Get returns the string for key, the English one if the locale lacks
// it, or key itself.
func (c *Catalog) Get(key string) string {
	if v, ok := c.entries[key]; ok {
		return v
	}
	if v, ok := c.fallback[key]; ok {
		return v
	}
	return key
}

// Tag returns the catalog's locale.
func (c *Catalog) Tag() language.Tag {
	return c.tag
}

// Parse reads "key = value" lines.
func Parse(r io.Reader) (map[string]string, error) {
	entries := make(map[string]string)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key == "" {
			continue
		}
		entries[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return entries, nil
}

func loadBuiltin(tag language.Tag) (map[string]string, error) {
	f, err := builtin.Open("catalogs/" + fileName(tag))
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", tag, err)
	}
	defer f.Close()
	return Parse(f)
}

func loadFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

func fileName(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String() + ".lang"
}

// normalize turns POSIX locale names like de_DE.UTF-8@euro into BCP 47.
func normalize(locale string) string {
	if i := strings.IndexAny(locale, ".@"); i >= 0 {
		locale = locale[:i]
	}
	return strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
}

func merge(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
