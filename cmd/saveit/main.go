package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robertmeta/saveit/config"
	"github.com/urfave/cli/v2"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitDataError    = 3
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(ExitGeneralError)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "saveit",
		Usage:   "Save web sources and copy them as citations",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Value:   config.DefaultDBPath(),
				Usage:   "Database file path",
				EnvVars: []string{"SAVEIT_DB"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath(),
				Usage:   "Config file path",
				EnvVars: []string{"SAVEIT_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides the config file",
			},
			&cli.BoolFlag{
				Name:  "reset-config",
				Usage: "Replace the config file with the defaults before running",
			},
			&cli.BoolFlag{
				Name:  "reset-database",
				Usage: "Delete every stored source before running",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Save a new source",
				ArgsUsage: "<url>",
				Flags:     sourceFlags(),
				Action:    addSource,
			},
			{
				Name:  "list",
				Usage: "List saved sources",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "search",
						Aliases: []string{"q"},
						Usage:   "Only sources whose title, URL or author contain this text",
					},
					&cli.StringFlag{
						Name:    "since",
						Aliases: []string{"s"},
						Usage:   "Only sources viewed within this duration (e.g., 7d, 2w, 3m, 1y)",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Usage:   "Maximum number of sources to return (0 for all)",
					},
					&cli.IntFlag{
						Name:    "offset",
						Aliases: []string{"o"},
						Usage:   "Offset for pagination",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print JSON instead of text",
					},
				},
				Action: listSources,
			},
			{
				Name:      "show",
				Usage:     "Show one source as JSON",
				ArgsUsage: "<source-id>",
				Action:    showSource,
			},
			{
				Name:      "edit",
				Usage:     "Change fields of a source",
				ArgsUsage: "<source-id>",
				Flags:     append(sourceFlags(), &cli.StringFlag{Name: "url", Usage: "Source URL"}),
				Action:    editSource,
			},
			{
				Name:      "remove",
				Usage:     "Remove sources",
				ArgsUsage: "<source-id>...",
				Action:    removeSources,
			},
			{
				Name:      "copy",
				Usage:     "Print sources formatted with the configured standard",
				ArgsUsage: "[<source-id>...]",
				Action:    copySources,
			},
			{
				Name:  "config",
				Usage: "Show or change settings",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Print the effective config as JSON",
						Action: showConfig,
					},
					{
						Name:  "set",
						Usage: "Change settings and save them",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "standard", Usage: "Format standard (default, custom, ieee, apa)"},
							&cli.StringFlag{Name: "template", Usage: "Custom template, e.g. \"{AUTHOR} ({P_DATE}): {TITLE}\""},
							&cli.StringFlag{Name: "published-format", Usage: "strftime pattern for {P_DATE}"},
							&cli.StringFlag{Name: "viewed-format", Usage: "strftime pattern for {V_DATE}"},
							&cli.StringFlag{Name: "log-level", Usage: "Log level stored in the config"},
						},
						Action: setConfig,
					},
				},
			},
			{
				Name:      "import-feed",
				Usage:     "Save every item of an RSS/Atom feed",
				ArgsUsage: "<url|file>",
				Action:    importFeed,
			},
			{
				Name:      "import-opml",
				Usage:     "Save every link of an OPML file",
				ArgsUsage: "<opml-file>",
				Action:    importOPML,
			},
			{
				Name:  "export-opml",
				Usage: "Export sources to an OPML link list",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file (default: stdout)",
					},
				},
				Action: exportOPML,
			},
		},
	}
}

// sourceFlags are shared by add and edit.
func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Source title"},
		&cli.StringFlag{Name: "author", Aliases: []string{"a"}, Usage: "Author, empty when unknown"},
		&cli.StringFlag{Name: "published", Aliases: []string{"p"}, Usage: "Publication date (YYYY-MM-DD)"},
		&cli.BoolFlag{Name: "published-unknown", Usage: "Mark the publication date as unknown"},
		&cli.StringFlag{Name: "viewed", Aliases: []string{"v"}, Usage: "Viewed date (YYYY-MM-DD, default today)"},
		&cli.StringFlag{Name: "comment", Usage: "Free-form note"},
	}
}
