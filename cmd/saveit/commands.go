package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/robertmeta/saveit/cache"
	"github.com/robertmeta/saveit/config"
	"github.com/robertmeta/saveit/feed"
	"github.com/robertmeta/saveit/format"
	"github.com/robertmeta/saveit/logger"
	"github.com/robertmeta/saveit/model"
	"github.com/robertmeta/saveit/opml"
	"github.com/robertmeta/saveit/repository"
	"github.com/robertmeta/saveit/store"
	"github.com/urfave/cli/v2"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid source ID %q", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// applySourceFlags copies every flag the user set onto src.
func applySourceFlags(c *cli.Context, src *model.Source) error {
	if c.IsSet("url") {
		src.URL = strings.TrimSpace(c.String("url"))
	}
	if c.IsSet("title") {
		src.Title = c.String("title")
	}
	if c.IsSet("author") {
		src.Author = strings.TrimSpace(c.String("author"))
	}
	if c.IsSet("comment") {
		src.Comment = c.String("comment")
	}
	if c.IsSet("viewed") {
		viewed, err := model.ParseDate(c.String("viewed"))
		if err != nil {
			return fmt.Errorf("--viewed: %w", err)
		}
		src.ViewedDate = viewed
	}
	if c.IsSet("published") {
		published, err := model.ParseDate(c.String("published"))
		if err != nil {
			return fmt.Errorf("--published: %w", err)
		}
		src.PublishedDate = published
		src.PublishedDateUnknown = false
	}
	if c.IsSet("published-unknown") {
		src.PublishedDateUnknown = c.Bool("published-unknown")
		if src.PublishedDateUnknown && !c.IsSet("published") {
			src.PublishedDate = src.ViewedDate
		}
	}
	return nil
}

// exitCode maps a write failure to the process exit code.
func exitCode(err error) int {
	if errors.Is(err, repository.ErrCancelled) || errors.Is(err, repository.ErrShutdown) {
		return ExitGeneralError
	}
	return ExitDataError
}

// staleWarning is shown when a write was saved but the cache reload after it
// failed.
const staleWarning = "saved, but the source list could not be reloaded"

// committed reports whether err only says the cache is stale. The write itself
// is in the database and must not be retried.
func committed(err error) bool {
	kind, ok := store.KindOf(err)
	return ok && kind == store.KindRefresh
}

func warnStale(c *cli.Context, s *session, op *repository.Op, id int64, err error) {
	s.log.Warn("Cache is stale after write",
		logger.String("op", string(op.Kind())),
		logger.Int64("id", id),
		logger.Err(err),
	)
	fmt.Fprintf(c.App.ErrWriter, "Warning: source %d %s: %v\n", id, staleWarning, err)
}

func addSource(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: saveit add [flags] <url>", ExitUsageError)
	}

	src := model.NewSource()
	src.URL = strings.TrimSpace(c.Args().Get(0))
	if err := applySourceFlags(c, &src); err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}
	if err := src.Validate(); err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	op := s.repo.CreateAsync(c.Context, src)
	id, err := op.Wait(c.Context)
	resp := map[string]interface{}{"success": true}
	switch {
	case err == nil:
	case committed(err):
		warnStale(c, s, op, id, err)
		resp["warning"] = staleWarning
	default:
		return cli.Exit(fmt.Sprintf("Failed to save source: %v", err), exitCode(err))
	}
	src.ID = id
	resp["source"] = src

	return outputJSON(c, resp)
}

func listSources(c *cli.Context) error {
	q, err := cache.BuildQuery(c.String("search"), c.String("since"), c.Int("limit"), c.Int("offset"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Invalid query options: %v", err), ExitUsageError)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	sources := cache.Filter(s.cache.Snapshot(), q)

	if c.Bool("json") {
		return outputJSON(c, map[string]interface{}{
			"count":   len(sources),
			"limit":   q.Limit,
			"offset":  q.Offset,
			"sources": sources,
		})
	}

	w := c.App.Writer
	for _, src := range sources {
		title := src.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", src.ID, model.FormatDate(src.ViewedDate), title, src.URL)
	}
	return nil
}

func showSource(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: saveit show <source-id>", ExitUsageError)
	}
	id, err := parseID(c.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	src, ok := s.cache.Get(id)
	if !ok {
		return cli.Exit(fmt.Sprintf("Source %d not found", id), ExitDataError)
	}
	return outputJSON(c, src)
}

func editSource(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: saveit edit [flags] <source-id>", ExitUsageError)
	}
	id, err := parseID(c.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	src, ok := s.cache.Get(id)
	if !ok {
		return cli.Exit(fmt.Sprintf("Source %d not found", id), ExitDataError)
	}
	if err := applySourceFlags(c, &src); err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	op := s.repo.UpdateAsync(c.Context, id, src)
	resp := map[string]interface{}{"success": true, "source": src}
	if _, err := op.Wait(c.Context); err != nil {
		if !committed(err) {
			return cli.Exit(fmt.Sprintf("Failed to update source: %v", err), exitCode(err))
		}
		warnStale(c, s, op, id, err)
		resp["warning"] = staleWarning
	} else if updated, ok := s.cache.Get(id); ok {
		resp["source"] = updated
	}
	return outputJSON(c, resp)
}

func removeSources(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: saveit remove <source-id>...", ExitUsageError)
	}
	ids, err := parseIDs(c.Args().Slice())
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	// Queue every delete before waiting on any of them.
	ops := make([]*repository.Op, len(ids))
	for i, id := range ids {
		ops[i] = s.repo.DeleteAsync(c.Context, id)
	}

	removed := []int64{}
	failures := map[string]string{}
	for i, op := range ops {
		if _, err := op.Wait(c.Context); err != nil {
			if !committed(err) {
				failures[strconv.FormatInt(ids[i], 10)] = err.Error()
				continue
			}
			warnStale(c, s, op, ids[i], err)
		}
		removed = append(removed, ids[i])
	}

	if err := outputJSON(c, map[string]interface{}{
		"success": len(failures) == 0,
		"removed": removed,
		"errors":  failures,
	}); err != nil {
		return err
	}
	if len(failures) > 0 {
		return cli.Exit(fmt.Sprintf("Failed to remove %d of %d sources", len(failures), len(ids)), ExitDataError)
	}
	return nil
}

func copySources(c *cli.Context) error {
	ids, err := parseIDs(c.Args().Slice())
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	sources := s.cache.Snapshot()
	if len(ids) > 0 {
		sources = sources[:0]
		for _, id := range ids {
			src, ok := s.cache.Get(id)
			if !ok {
				return cli.Exit(fmt.Sprintf("Source %d not found", id), ExitDataError)
			}
			sources = append(sources, src)
		}
	}

	text, err := format.FormatAll(sources, s.cfg.FormatOptions())
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to format sources: %v", err), ExitDataError)
	}
	if text != "" {
		fmt.Fprintln(c.App.Writer, text)
	}
	return nil
}

func showConfig(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	return outputJSON(c, map[string]interface{}{
		"path":                  c.String("config"),
		"format_standard":       cfg.FormatStandard,
		"custom_format":         cfg.CustomFormat,
		"published_date_format": cfg.PublishedDateFormat,
		"viewed_date_format":    cfg.ViewedDateFormat,
		"log_level":             cfg.Log.Level,
		"supported":             cfg.FormatStandard.Supported(),
	})
}

func setConfig(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}

	if c.IsSet("standard") {
		std, err := model.ParseFormatStandard(c.String("standard"))
		if err != nil {
			return cli.Exit(err.Error(), ExitUsageError)
		}
		cfg.FormatStandard = std
	}
	if c.IsSet("template") {
		cfg.CustomFormat = c.String("template")
	}
	if c.IsSet("published-format") {
		cfg.PublishedDateFormat = c.String("published-format")
	}
	if c.IsSet("viewed-format") {
		cfg.ViewedDateFormat = c.String("viewed-format")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}

	path := c.String("config")
	if err := config.Save(path, cfg); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to save config: %v", err), ExitDataError)
	}
	log.Info("Config saved",
		logger.String("path", path),
		logger.String("standard", string(cfg.FormatStandard)),
		logger.Bool("supported", cfg.FormatStandard.Supported()),
	)

	if !cfg.FormatStandard.Supported() {
		fmt.Fprintf(c.App.ErrWriter, "Warning: format standard %q cannot be rendered yet\n", cfg.FormatStandard)
	}
	return outputJSON(c, map[string]interface{}{
		"success": true,
		"path":    path,
	})
}

func importFeed(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: saveit import-feed <url|file>", ExitUsageError)
	}
	target := c.Args().Get(0)
	fetcher := feed.NewFetcher()

	var (
		drafts []model.Source
		err    error
	)
	if data, readErr := os.ReadFile(target); readErr == nil {
		drafts, err = fetcher.Parse(string(data))
	} else {
		drafts, err = fetcher.Fetch(c.Context, target)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to read feed: %v", err), ExitDataError)
	}

	return importSources(c, drafts)
}

func importOPML(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: saveit import-opml <opml-file>", ExitUsageError)
	}

	file, err := os.Open(c.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to open OPML file: %v", err), ExitDataError)
	}
	defer file.Close()

	drafts, err := opml.Parse(file)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to parse OPML: %v", err), ExitDataError)
	}

	return importSources(c, drafts)
}

// importSources queues a create for every draft and reports the outcome.
func importSources(c *cli.Context, drafts []model.Source) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	ops := make([]*repository.Op, len(drafts))
	for i, src := range drafts {
		ops[i] = s.repo.CreateAsync(c.Context, src)
	}

	ids := []int64{}
	var failures, warnings []string
	dbLost := false
	for i, op := range ops {
		id, err := op.Wait(c.Context)
		switch {
		case err == nil:
		case committed(err):
			warnStale(c, s, op, id, err)
			warnings = append(warnings, fmt.Sprintf("%s: %s", drafts[i].URL, staleWarning))
		default:
			if kind, ok := store.KindOf(err); ok && kind == store.KindConnection {
				dbLost = true
			}
			failures = append(failures, fmt.Sprintf("%s: %v", drafts[i].URL, err))
			continue
		}
		ids = append(ids, id)
	}

	if len(failures) > 0 {
		s.log.Warn("Some sources were not imported", logger.Int("failed", len(failures)))
	}

	if err := outputJSON(c, map[string]interface{}{
		"success":  !dbLost,
		"imported": len(ids),
		"skipped":  len(failures),
		"total":    len(drafts),
		"ids":      ids,
		"errors":   failures,
		"warnings": warnings,
	}); err != nil {
		return err
	}
	if dbLost {
		return cli.Exit("Database unavailable during import", ExitDataError)
	}
	return nil
}

func exportOPML(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	sources := s.cache.Snapshot()

	outputPath := c.String("output")
	var writer io.Writer = c.App.Writer
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to create output file: %v", err), ExitDataError)
		}
		defer file.Close()
		writer = file
	}

	if err := opml.Generate(writer, sources); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to generate OPML: %v", err), ExitDataError)
	}

	if outputPath != "" {
		return outputJSON(c, map[string]interface{}{
			"success": true,
			"file":    outputPath,
			"count":   len(sources),
		})
	}
	return nil
}
