package settings

import (
	"os"
	"path/filepath"
	"strings"
)

// CustomSkill is a skill or slash command discovered on the filesystem.
type CustomSkill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"`
	FilePath    string `json:"filePath"`
}

// DiscoverSkills scans personal skill and command directories, plus the
// project's when projectPath is non-empty. Skills live at
// <dir>/skills/<name>/SKILL.md, legacy commands at <dir>/commands/<name>.md.
func (s *Service) DiscoverSkills(projectPath string) []CustomSkill {
	var skills []CustomSkill

	s.collectSkills(filepath.Join(s.claudeDir, "skills"), "personal", &skills)
	s.collectCommands(filepath.Join(s.claudeDir, "commands"), "personal", &skills)

	if strings.TrimSpace(projectPath) != "" {
		s.collectSkills(filepath.Join(projectPath, ".claude", "skills"), "project", &skills)
		s.collectCommands(filepath.Join(projectPath, ".claude", "commands"), "project", &skills)
	}
	return skills
}

func (s *Service) collectSkills(dir, source string, skills *[]CustomSkill) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillFile := filepath.Join(dir, entry.Name(), "SKILL.md")
		data, err := os.ReadFile(skillFile)
		if err != nil {
			continue
		}
		name, description := parseFrontmatter(string(data), entry.Name())
		*skills = append(*skills, CustomSkill{
			Name:        name,
			Description: description,
			Source:      source,
			FilePath:    skillFile,
		})
	}
}

func (s *Service) collectCommands(dir, source string, skills *[]CustomSkill) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		name, description := parseFrontmatter(string(data), stem)
		*skills = append(*skills, CustomSkill{
			Name:        name,
			Description: description,
			Source:      source,
			FilePath:    path,
		})
	}
}

// parseFrontmatter extracts name and description from YAML frontmatter,
// falling back to defaultName and the first content line.
func parseFrontmatter(content, defaultName string) (string, string) {
	name := defaultName
	description := ""
	body := content

	if rest, ok := strings.CutPrefix(content, "---"); ok {
		if end := strings.Index(rest, "---"); end >= 0 {
			for _, line := range strings.Split(rest[:end], "\n") {
				line = strings.TrimSpace(line)
				if value, ok := strings.CutPrefix(line, "name:"); ok {
					if value = trimQuoted(value); value != "" {
						name = value
					}
				} else if value, ok := strings.CutPrefix(line, "description:"); ok {
					if value = trimQuoted(value); value != "" {
						description = value
					}
				}
			}
			body = rest[end+3:]
		}
	}

	if description == "" {
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				description = line
				break
			}
		}
	}
	if description == "" {
		description = "Custom skill: " + name
	}
	return name, description
}

func trimQuoted(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"`)
	return strings.Trim(value, `'`)
}
