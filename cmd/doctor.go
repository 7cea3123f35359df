package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawbridge/internal/adapters"
	"github.com/nextlevelbuilder/clawbridge/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("clawbridge doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	workspace := cfg.WorkspacePath()
	fmt.Printf("  Workspace: %s", workspace)
	if err := checkWritable(workspace); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
	} else {
		fmt.Println(" (OK)")
	}
	fmt.Println()

	fmt.Println("  Adapters:")
	registry, err := adapters.LoadRegistry(config.ExpandHome(cfg.AdaptersDir))
	if err != nil {
		fmt.Printf("    load error: %s\n", err)
		return
	}
	for _, name := range registry.Names() {
		m := registry.Get(name)
		marker := ""
		if name == cfg.DefaultCLI {
			marker = " (default)"
		}
		if path, err := exec.LookPath(m.Command); err != nil {
			fmt.Printf("    %-8s %s NOT FOUND on PATH%s\n", name+":", m.Command, marker)
		} else {
			fmt.Printf("    %-8s %s%s\n", name+":", path, marker)
		}
	}
	fmt.Println()

	fmt.Println("  Channels:")
	if cfg.Channels.Telegram.Enabled {
		status := "OK"
		if cfg.Channels.Telegram.Token == "" {
			status = "ENABLED BUT NO TOKEN"
		}
		fmt.Printf("    telegram: %s\n", status)
	} else {
		fmt.Println("    telegram: disabled")
	}
	if cfg.Channels.Web.Enabled {
		fmt.Printf("    web:      %s\n", cfg.Channels.Web.Listen)
	} else {
		fmt.Println("    web:      disabled")
	}
	fmt.Println()

	fmt.Printf("  Cron:     %v\n", cfg.Cron.IsEnabled())
	fmt.Printf("  Memory:   %v\n", cfg.Memory.IsEnabled())
	fmt.Printf("  MCP:      %v\n", cfg.MCP.Enabled)
}

// checkWritable creates the directory if needed and probes it with a temp
// file.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor_*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
