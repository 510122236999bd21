package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// AgentTeam is a team configuration discovered under ~/.claude/teams/.
type AgentTeam struct {
	Name       string            `json:"name"`
	ConfigPath string            `json:"configPath"`
	Members    []AgentTeamMember `json:"members"`
}

// AgentTeamMember is one agent in a team.
type AgentTeamMember struct {
	Name      string `json:"name"`
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
	Role      string `json:"role"`
}

// DiscoverTeams lists agent teams: every directory under ~/.claude/teams/
// holding a parseable config.json.
func (s *Service) DiscoverTeams() []AgentTeam {
	teamsDir := filepath.Join(s.claudeDir, "teams")
	entries, err := os.ReadDir(teamsDir)
	if err != nil {
		return nil
	}

	var teams []AgentTeam
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		configPath := filepath.Join(teamsDir, entry.Name(), "config.json")
		data, err := os.ReadFile(configPath)
		if err != nil {
			continue
		}
		var config map[string]any
		if err := json.Unmarshal(data, &config); err != nil {
			s.logger.Debug("skip unparseable team config", "file", configPath, "error", err)
			continue
		}
		teams = append(teams, AgentTeam{
			Name:       entry.Name(),
			ConfigPath: configPath,
			Members:    parseTeamMembers(config),
		})
	}
	return teams
}

func parseTeamMembers(config map[string]any) []AgentTeamMember {
	raw, ok := config["members"].([]any)
	if !ok {
		return nil
	}
	var members []AgentTeamMember
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		member := AgentTeamMember{
			Name:      firstStringField(entry, "name"),
			AgentID:   firstStringField(entry, "agentId", "agent_id"),
			AgentType: firstStringField(entry, "agentType", "type"),
			Role:      firstStringField(entry, "role"),
		}
		if member.Name == "" {
			member.Name = "unnamed"
		}
		if member.AgentType == "" {
			member.AgentType = "general"
		}
		if member.Role == "" {
			member.Role = "teammate"
		}
		members = append(members, member)
	}
	return members
}

// TeamTasks reads the task files for one team from
// ~/.claude/tasks/<team-name>/. Each file is either a JSON array of tasks
// or a single task object.
func (s *Service) TeamTasks(teamName string) []json.RawMessage {
	tasksDir := filepath.Join(s.claudeDir, "tasks", teamName)
	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		return nil
	}

	var tasks []json.RawMessage
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(tasksDir, entry.Name()))
		if err != nil {
			continue
		}
		var array []json.RawMessage
		if err := json.Unmarshal(data, &array); err == nil {
			tasks = append(tasks, array...)
			continue
		}
		var single json.RawMessage
		if err := json.Unmarshal(data, &single); err == nil {
			tasks = append(tasks, single)
		}
	}
	return tasks
}
