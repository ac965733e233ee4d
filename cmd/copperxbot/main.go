package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"

	"github.com/m3rciful/copperxbot/bot/app"
	"github.com/m3rciful/copperxbot/core/cmd"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	err := cmd.Run(cmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (cmd.ConfigCarrier, error) {
			cfg, err := app.LoadConfig(path)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Bootstrap: app.Bootstrap,
	})
	if err != nil {
		log.Fatalf("copperxbot: %v", err)
	}
}
