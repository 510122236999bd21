package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MCPServer is one MCP server entry from settings.json.
type MCPServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Enabled bool     `json:"enabled"`
}

func (s *Service) settingsPath() string {
	return filepath.Join(s.claudeDir, "settings.json")
}

// MCPServers lists configured MCP servers from settings.json and
// settings.local.json. Local entries shadow nothing; both files contribute.
func (s *Service) MCPServers() []MCPServer {
	var servers []MCPServer
	for _, path := range []string{
		s.settingsPath(),
		filepath.Join(s.claudeDir, "settings.local.json"),
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var config map[string]any
		if err := json.Unmarshal(data, &config); err != nil {
			s.logger.Debug("skip unparseable settings file", "file", path, "error", err)
			continue
		}
		mcp, ok := config["mcpServers"].(map[string]any)
		if !ok {
			continue
		}
		for name, raw := range mcp {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			server := MCPServer{
				Name:    name,
				Command: firstStringField(entry, "command"),
				Enabled: true,
			}
			if disabled, ok := entry["disabled"].(bool); ok {
				server.Enabled = !disabled
			}
			if args, ok := entry["args"].([]any); ok {
				for _, arg := range args {
					if value, ok := arg.(string); ok {
						server.Args = append(server.Args, value)
					}
				}
			}
			servers = append(servers, server)
		}
	}
	return servers
}

// AddMCPServer adds or replaces an MCP server entry in settings.json.
func (s *Service) AddMCPServer(name, command string, args []string) error {
	return s.modifyMCPServers(func(mcp map[string]any) {
		argValues := make([]any, 0, len(args))
		for _, arg := range args {
			argValues = append(argValues, arg)
		}
		mcp[name] = map[string]any{"command": command, "args": argValues}
	})
}

// RemoveMCPServer removes an MCP server entry from settings.json.
func (s *Service) RemoveMCPServer(name string) error {
	return s.modifyMCPServers(func(mcp map[string]any) {
		delete(mcp, name)
	})
}

// ToggleMCPServer flips a server's disabled flag and reports the new
// enabled state.
func (s *Service) ToggleMCPServer(name string) (bool, error) {
	enabled := true
	err := s.modifyMCPServers(func(mcp map[string]any) {
		server, ok := mcp[name].(map[string]any)
		if !ok {
			return
		}
		disabled, _ := server["disabled"].(bool)
		enabled = disabled
		if enabled {
			delete(server, "disabled")
		} else {
			server["disabled"] = true
		}
	})
	return enabled, err
}

// modifyMCPServers reads settings.json, applies modify to the mcpServers
// section, and writes the file back pretty-printed.
func (s *Service) modifyMCPServers(modify func(map[string]any)) error {
	config := map[string]any{}
	if data, err := os.ReadFile(s.settingsPath()); err == nil {
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("parse settings.json: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read settings.json: %w", err)
	}

	mcp, ok := config["mcpServers"].(map[string]any)
	if !ok {
		mcp = map[string]any{}
		config["mcpServers"] = mcp
	}
	modify(mcp)

	if err := os.MkdirAll(s.claudeDir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	formatted, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize settings: %w", err)
	}
	if err := os.WriteFile(s.settingsPath(), formatted, 0o644); err != nil {
		return fmt.Errorf("write settings.json: %w", err)
	}
	return nil
}
