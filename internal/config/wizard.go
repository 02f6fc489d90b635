package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it. Secrets are never prompted for; the wizard points
// at the variables that carry them.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to chatdiagram! Let's configure your deployment.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Port.
	portPrompt := promptui.Prompt{
		Label:   "HTTP port",
		Default: strconv.Itoa(cfg.Server.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("enter a port between 1 and 65535")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	// 2. Chat workflow.
	workflowPrompt := promptui.Prompt{
		Label:   "Chat workflow id (wf_...)",
		Default: os.Getenv("CHATKIT_WORKFLOW_ID"),
	}
	workflow, err := workflowPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("workflow id: %w", err)
	}
	cfg.ChatKit.WorkflowID = strings.TrimSpace(workflow)

	// 3. Render engine.
	enginePrompt := promptui.Prompt{
		Label:   "Diagram render service URL (Kroki compatible, blank for none)",
		Default: "",
	}
	engineURL, err := enginePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("engine url: %w", err)
	}
	cfg.Render.EngineURL = strings.TrimSpace(engineURL)

	fallbackPrompt := promptui.Select{
		Label: "Fall back to the public remote renderer when local rendering fails?",
		Items: []string{"yes", "no"},
	}
	_, fallback, err := fallbackPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("remote fallback: %w", err)
	}
	cfg.Render.RemoteFallback = fallback == "yes"

	// 4. Repair provider.
	providerPrompt := promptui.Select{
		Label: "Select the provider used to repair broken diagrams",
		Items: []string{string(ProviderOpenAI), string(ProviderOpenRouter)},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Repair.Provider = ProviderType(providerStr)

	modelPrompt := promptui.Prompt{
		Label:   "Repair model",
		Default: cfg.Repair.Model,
	}
	model, err := modelPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("repair model: %w", err)
	}
	cfg.Repair.Model = strings.TrimSpace(model)

	// 5. Production cookies.
	prodPrompt := promptui.Select{
		Label: "Serving over HTTPS (marks cookies Secure)?",
		Items: []string{"no", "yes"},
	}
	_, prod, err := prodPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("production: %w", err)
	}
	cfg.Server.Production = prod == "yes"

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("\nConfiguration saved to %s\n", path)

	for _, name := range missingSecrets() {
		fmt.Printf("Note: set %s in your environment before running chatdiagram serve.\n", name)
	}
	return cfg, nil
}

func missingSecrets() []string {
	var out []string
	for _, name := range []string{"OPENAI_API_KEY", "APP_PASSWORD", "APP_GATE_TOKEN"} {
		if os.Getenv(name) == "" {
			out = append(out, name)
		}
	}
	return out
}
