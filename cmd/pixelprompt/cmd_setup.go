package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("PixelPrompt Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println("A model column is enabled when its API key is set.")
		fmt.Println()

		cfg.Models.OpenAI.APIKey = prompt(scanner, "OpenAI API key (optional)", cfg.Models.OpenAI.APIKey)
		cfg.Models.Flux.APIKey = prompt(scanner, "Black Forest Labs API key (optional)", cfg.Models.Flux.APIKey)
		cfg.Models.Recraft.APIKey = prompt(scanner, "Recraft API key (optional)", cfg.Models.Recraft.APIKey)
		cfg.Models.Gemini.APIKey = prompt(scanner, "Gemini API key (optional)", cfg.Models.Gemini.APIKey)
		cfg.Enhance.APIKey = prompt(scanner, "Prompt enhancement API key (optional)", cfg.Enhance.APIKey)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.Server.Addr = prompt(scanner, "HTTP listen address", cfg.Server.Addr)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
