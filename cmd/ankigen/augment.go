package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/ankigen/internal/ankiconnect"
	"github.com/at-ishikawa/ankigen/internal/apkg"
	"github.com/at-ishikawa/ankigen/internal/augment"
	"github.com/at-ishikawa/ankigen/internal/inference"
	"github.com/at-ishikawa/ankigen/internal/inference/gemini"
)

func newAugmentCommand() *cobra.Command {
	var (
		inputPath   string
		outputPath  string
		ankiConnect bool
		noteType    string
		targetField string
		promptFile  string
		dryRun      bool
		workers     int
	)

	command := &cobra.Command{
		Use:   "augment",
		Short: "Fill an empty field of every matching note with generated content",
		Long: `Fill an empty field of every matching note with generated content.

By default this reads an .apkg package file and writes an augmented copy.
With --anki-connect it updates a running Anki instance instead.
The prompt file may reference note fields as {FieldName} placeholders.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if !ankiConnect {
				if inputPath == "" || outputPath == "" {
					return errors.New("--input and --output are required unless --anki-connect is set")
				}
				if _, err := os.Stat(inputPath); err != nil {
					return fmt.Errorf("input package %q is not readable: %w", inputPath, err)
				}
			}

			template, err := augment.LoadTemplate(promptFile)
			if err != nil {
				return err
			}

			if workers <= 0 {
				workers = cfg.Augment.Workers
			}
			opts := augment.Options{
				NoteType:    noteType,
				TargetField: targetField,
				Template:    template,
				Workers:     workers,
				DryRun:      dryRun,
			}

			timeout := time.Duration(cfg.Augment.RequestTimeoutSeconds) * time.Second
			ctx := cmd.Context()

			// The generation service is only contacted outside dry runs,
			// so previewing a deck does not require credentials.
			var client inference.Client
			if !dryRun {
				if cfg.Gemini.APIKey == "" {
					return errors.New("GEMINI_API_KEY environment variable is not set")
				}
				geminiClient := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model, timeout)
				defer func() {
					_ = geminiClient.Close()
				}()
				client = geminiClient
			}

			if ankiConnect {
				ankiClient := ankiconnect.NewClient(cfg.AnkiConnect.URL, timeout)
				defer func() {
					_ = ankiClient.Close()
				}()
				return augment.RunLive(ctx, ankiClient, client, opts)
			}

			pkg := apkg.New(cfg.Augment.ScratchDirectory)
			return augment.RunFile(ctx, pkg, client, inputPath, outputPath, opts)
		},
	}

	flags := command.Flags()
	flags.StringVar(&inputPath, "input", "", "Input .apkg file path")
	flags.StringVar(&outputPath, "output", "", "Output .apkg file path")
	flags.BoolVar(&ankiConnect, "anki-connect", false, "Update a running Anki instance through AnkiConnect instead of a package file")
	flags.StringVar(&noteType, "note-type", "", "Note type (model) name to operate on")
	flags.StringVar(&targetField, "target-field", "", "The field to fill (e.g. 'Notes', 'Mnemonic')")
	flags.StringVar(&promptFile, "prompt-file", "", "Path to a prompt template file. Use {FieldName} for placeholders")
	flags.BoolVar(&dryRun, "dry-run", false, "List notes that would be updated without generating or writing anything")
	flags.IntVar(&workers, "workers", 0, "Concurrent generation requests (defaults to the configured value)")

	for _, required := range []string{"note-type", "target-field", "prompt-file"} {
		if err := command.MarkFlagRequired(required); err != nil {
			panic(fmt.Errorf("failed to mark --%s required: %w", required, err))
		}
	}

	return command
}
