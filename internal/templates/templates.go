// Copyright (c) 2026 Cal Page
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package templates loads reply templates from disk.
//
// A template file <name>.template has a header section above a "---" line
// (From: and optionally Subject:) and the reply body below it. Some replies
// additionally splice a companion <name>.txt content file into the body at
// the {BODY_CONTENT} marker.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Template is a parsed reply template.
type Template struct {
	From    string
	Subject string
	Body    string
}

// Render substitutes {KEY} placeholders in the body.
func (t *Template) Render(vars map[string]string) string {
	body := t.Body
	for key, value := range vars {
		body = strings.ReplaceAll(body, "{"+key+"}", value)
	}
	return body
}

// Loader reads templates from a directory.
type Loader struct {
	dir string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load parses <name>.template from the template directory.
func (l *Loader) Load(name string) (*Template, error) {
	path := filepath.Join(l.dir, name+".template")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	return parse(name, string(raw))
}

// LoadWithContent parses <name>.template and splices <name>.txt into the
// body at the {BODY_CONTENT} marker.
func (l *Loader) LoadWithContent(name string) (*Template, error) {
	tmpl, err := l.Load(name)
	if err != nil {
		return nil, err
	}

	contentPath := filepath.Join(l.dir, name+".txt")
	content, err := os.ReadFile(contentPath)
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", name, err)
	}

	tmpl.Body = strings.TrimSpace(strings.ReplaceAll(tmpl.Body, "{BODY_CONTENT}", string(content)))
	return tmpl, nil
}

func parse(name, raw string) (*Template, error) {
	headers, body, found := strings.Cut(raw, "---")
	if !found {
		return nil, fmt.Errorf("template %s: missing --- separator", name)
	}

	tmpl := &Template{Body: strings.TrimSpace(body)}
	for _, line := range strings.Split(strings.TrimSpace(headers), "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "from:"):
			tmpl.From = strings.TrimSpace(line[len("from:"):])
		case strings.HasPrefix(lower, "subject:"):
			tmpl.Subject = strings.TrimSpace(line[len("subject:"):])
		}
	}

	if tmpl.From == "" {
		return nil, fmt.Errorf("template %s: no From address", name)
	}
	return tmpl, nil
}
