package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/antonkrylov/aura/internal/llm"
	"github.com/antonkrylov/aura/internal/shell"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Print local diagnostic information for troubleshooting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			exe, _ := os.Executable()
			fmt.Fprintf(out, "aura_executable=%s\n", strings.TrimSpace(exe))
			fmt.Fprintf(out, "aura_version=%s\n", version)

			fmt.Fprintf(out, "config_path=%s\n", root.configPath)
			if root.config == nil {
				fmt.Fprintln(out, "config_present=false")
			} else {
				fmt.Fprintln(out, "config_present=true")
				fmt.Fprintf(out, "config_profiles=%d\n", len(root.config.Profiles))
			}
			fmt.Fprintf(out, "profile=%s\n", root.profileName)

			program := strings.TrimSpace(root.profile.Shell)
			if program == "" {
				program = shell.DefaultProgram
			}
			fmt.Fprintf(out, "shell=%s\n", program)
			if path, err := exec.LookPath(program); err != nil {
				fmt.Fprintf(out, "shell_error=%s\n", err.Error())
			} else {
				fmt.Fprintf(out, "shell_path=%s\n", path)
			}
			transport := strings.TrimSpace(root.profile.Transport)
			if transport == "" {
				transport = "pipe"
			}
			fmt.Fprintf(out, "transport=%s\n", transport)
			fmt.Fprintf(out, "stdin_is_terminal=%t\n", term.IsTerminal(int(os.Stdin.Fd())))
			fmt.Fprintf(out, "timeline_dir=%s\n", root.config.TimelineDir())

			nats := root.natsOptions()
			if strings.TrimSpace(nats.URL) == "" {
				fmt.Fprintln(out, "nats=disabled")
			} else {
				fmt.Fprintf(out, "nats_url=%s\n", nats.URL)
			}

			llmCfg := llm.FromEnv()
			if !llmCfg.Enabled() {
				fmt.Fprintln(out, "llm=disabled")
				return nil
			}
			fmt.Fprintf(out, "llm_provider=%s\n", llmCfg.Provider)
			fmt.Fprintf(out, "llm_model=%s\n", llmCfg.Model)
			fmt.Fprintf(out, "llm_base_url=%s\n", llmCfg.BaseURL)
			fmt.Fprintf(out, "llm_api_key=%s\n", llmCfg.Redacted())
			if err := llmCfg.Validate(); err != nil {
				fmt.Fprintf(out, "llm_error=%s\n", err.Error())
			}
			return nil
		},
	}
}
