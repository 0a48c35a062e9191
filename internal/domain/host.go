package domain

// HostSnapshot holds host facts injected into prompts.
type HostSnapshot struct {
	OS             string   `json:"os"`
	Kernel         string   `json:"kernel,omitempty"`
	Distro         string   `json:"distro,omitempty"`
	Hostname       string   `json:"hostname,omitempty"`
	User           string   `json:"user,omitempty"`
	Shell          string   `json:"shell,omitempty"`
	AvailableTools []string `json:"available_tools,omitempty"`
}
